package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ordercore/internal/domain/model"
	"ordercore/internal/eventbus"
	"ordercore/internal/payment"
	"ordercore/internal/shipping"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// fakeGateway は呼び出しを記録し、Verifyの結果を差し替えられる
type fakeGateway struct {
	code      model.PaymentMethodCode
	createErr error
	callback  payment.Callback
	verifyErr error
	requests  []payment.Request
}

func (g *fakeGateway) Provider() model.PaymentMethodCode { return g.code }

func (g *fakeGateway) CreatePayment(ctx context.Context, req payment.Request) (payment.Result, error) {
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return payment.Result{}, g.createErr
	}
	ext := fmt.Sprintf("%s-%s-%d", g.code, req.OrderNumber, req.Attempt)
	res := payment.Result{
		ExternalID:  ext,
		RedirectURL: "https://pay.example.com/" + ext,
		Payload:     []byte(`{"ok":true}`),
	}
	switch g.code {
	case model.PaymentMethodSePay:
		res.Reference = "SEVQR " + req.OrderNumber
	case model.PaymentMethodPayPal:
		res.ChargeAmount = "8.00"
		res.ChargeCurrency = "USD"
	}
	return res, nil
}

func (g *fakeGateway) Verify(ctx context.Context, body []byte, header http.Header) (payment.Callback, error) {
	if g.verifyErr != nil {
		return payment.Callback{}, g.verifyErr
	}
	return g.callback, nil
}

type publishedEvent struct {
	Topic   string
	Key     string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

func (p *recordingPublisher) last(topic string) (publishedEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Topic == topic {
			return p.events[i], true
		}
	}
	return publishedEvent{}, false
}

type fakeCarrier struct {
	created   []shipping.ShipmentRequest
	createErr error
	detail    shipping.ShipmentDetail
	detailErr error
	labelErr  error
	// 注文番号で引ける業者側の既存伝票
	byClientCode map[string]shipping.ShipmentDetail
}

func (c *fakeCarrier) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (shipping.Shipment, error) {
	if c.createErr != nil {
		return shipping.Shipment{}, c.createErr
	}
	c.created = append(c.created, req)
	return shipping.Shipment{OrderCode: "GHN" + req.ClientOrderCode, TotalFee: 22000}, nil
}

func (c *fakeCarrier) Detail(ctx context.Context, orderCode string) (shipping.ShipmentDetail, error) {
	if c.detailErr != nil {
		return shipping.ShipmentDetail{}, c.detailErr
	}
	return c.detail, nil
}

func (c *fakeCarrier) DetailByClientCode(ctx context.Context, clientOrderCode string) (shipping.ShipmentDetail, error) {
	d, ok := c.byClientCode[clientOrderCode]
	if !ok {
		return shipping.ShipmentDetail{}, fmt.Errorf("%w: order not found", shipping.ErrCarrier)
	}
	return d, nil
}

func (c *fakeCarrier) PrintLabel(ctx context.Context, orderCodes ...string) (shipping.Label, error) {
	if c.labelErr != nil {
		return shipping.Label{}, c.labelErr
	}
	return shipping.Label{Token: "tok", URL: "https://print.example.com/?token=tok"}, nil
}

// 50万VND以上で送料無料
type flatPricing struct{}

func (flatPricing) ShippingFeeFor(subtotal int64) int64 {
	if subtotal >= 500000 {
		return 0
	}
	return 30000
}

type stubValidator struct{ err error }

func (v stubValidator) ValidateCreateOrder(in CreateOrderInput) error { return v.err }

var errGatewayDown = errors.New("gateway down")

// testEnv はusecase一式をインメモリで組み立てる
type testEnv struct {
	store    *memStore
	ledger   *WalletLedger
	gateways map[model.PaymentMethodCode]*fakeGateway
	carrier  *fakeCarrier
	events   *recordingPublisher

	orders   *OrderUsecase
	payments *PaymentUsecase
	admin    *AdminOrderUsecase
	comp     *CompensationUsecase
}

func newTestEnv() *testEnv {
	store := newMemStore()
	gws := map[model.PaymentMethodCode]*fakeGateway{
		model.PaymentMethodZaloPay: {code: model.PaymentMethodZaloPay},
		model.PaymentMethodPayPal:  {code: model.PaymentMethodPayPal},
		model.PaymentMethodSePay:   {code: model.PaymentMethodSePay},
	}
	registry := payment.NewRegistry(gws[model.PaymentMethodZaloPay], gws[model.PaymentMethodPayPal], gws[model.PaymentMethodSePay])
	carrier := &fakeCarrier{}
	events := &recordingPublisher{}

	ledger := NewWalletLedger(store, memWallets{store})
	orders := NewOrderUsecase(store, stubValidator{}, ledger, registry, carrier, events, flatPricing{}, nil)
	orders.now = func() time.Time { return fixedNow }
	payments := NewPaymentUsecase(store, registry, nil)
	payments.now = func() time.Time { return fixedNow }
	admin := NewAdminOrderUsecase(store, ledger, carrier, events)
	admin.now = func() time.Time { return fixedNow }

	return &testEnv{
		store:    store,
		ledger:   ledger,
		gateways: gws,
		carrier:  carrier,
		events:   events,
		orders:   orders,
		payments: payments,
		admin:    admin,
		comp:     NewCompensationUsecase(store, ledger),
	}
}

func testAddress() model.ShippingAddress {
	return model.ShippingAddress{
		FullName:   "Nguyen Van A",
		Phone:      "0901234567",
		Line:       "12 Le Loi",
		Ward:       "Ben Nghe",
		District:   "Quan 1",
		Province:   "Ho Chi Minh",
		WardCode:   "20308",
		DistrictID: 1442,
	}
}

func orderInput(method string, items ...CreateOrderItemInput) CreateOrderInput {
	return CreateOrderInput{
		Items:           items,
		ShippingAddress: testAddress(),
		PaymentMethod:   method,
	}
}

func line(productID, qty int64) CreateOrderItemInput {
	return CreateOrderItemInput{ProductID: productID, Quantity: qty}
}

// リスナーの代わりにorder.cancelledを補償処理へ流す
func (e *testEnv) deliverCancelled() error {
	ev, ok := e.events.last(eventbus.TopicOrderCancelled)
	if !ok {
		return errors.New("no order.cancelled published")
	}
	p := ev.Payload.(eventbus.OrderCancelled)
	items := make([]model.OrderItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, model.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return e.comp.RestoreCancelledOrder(context.Background(), p.OrderID, p.UserID, p.OrderNumber, p.WalletPaid, items)
}

func (e *testEnv) stock(productID int64) int64 {
	return e.store.products[productID].Stock
}

func (e *testEnv) order(id int64) model.Order {
	return e.store.orders[id]
}

func ptrTime(t time.Time) *time.Time { return &t }
