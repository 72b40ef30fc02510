package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ordercore/internal/domain/model"
	"ordercore/internal/eventbus"
	"ordercore/internal/pkg/logging"
	"ordercore/internal/pkg/metrics"
	repo "ordercore/internal/repository"
	"ordercore/internal/shipping"

	"go.uber.org/zap"
)

// 注文番号の衝突時に作り直す回数
const maxOrderNumberAttempts = 3

var (
	errOrderNumberTaken    = errors.New("order number taken")
	errIdempotencyKeyTaken = errors.New("idempotency key taken")
)

type OrderUsecase struct {
	tx        repo.TransactionManager
	validator OrderValidator
	ledger    *WalletLedger
	gateways  GatewayRegistry
	carrier   Carrier
	events    eventbus.Publisher
	pricing   PricingPolicy
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	validator OrderValidator,
	ledger *WalletLedger,
	gateways GatewayRegistry,
	carrier Carrier,
	events eventbus.Publisher,
	pricing PricingPolicy,
	m *metrics.Metrics,
) *OrderUsecase {
	return &OrderUsecase{
		tx:        tx,
		validator: validator,
		ledger:    ledger,
		gateways:  gateways,
		carrier:   carrier,
		events:    events,
		pricing:   pricing,
		metrics:   m,
		now:       time.Now,
	}
}

type CreateOrderItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type CreateOrderInput struct {
	// 空ならACTIVEカートの中身で注文する
	Items           []CreateOrderItemInput
	ShippingAddress model.ShippingAddress
	PaymentMethod   string
	ReturnURL       string
	CancelURL       string
	Note            string
	IdempotencyKey  string
}

type OrderOutput struct {
	model.Order
	// ゲートウェイの支払いページ（SePayはQR画像）
	PaymentURL string `json:"payment_url,omitempty"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

type TrackingOutput struct {
	OrderID       int64                `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	Status        model.OrderStatus    `json:"status"`
	ShipmentCode  string               `json:"shipment_code,omitempty"`
	CarrierStatus string               `json:"carrier_status,omitempty"`
	Log           []shipping.StatusLog `json:"log,omitempty"`
	CarrierError  string               `json:"carrier_error,omitempty"`
}

// CreateOrder は在庫確保、ウォレット引き落とし、注文保存、ゲートウェイ支払い作成を
// 1つのトランザクションで行う。どこかで失敗すれば全部ロールバックする。
func (u *OrderUsecase) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	method, ok := model.ParsePaymentMethod(in.PaymentMethod, in.ReturnURL, in.CancelURL)
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payment_method")
	}
	if err := u.validator.ValidateCreateOrder(in); err != nil {
		return OrderOutput{}, err
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	var (
		out     OrderOutput
		created bool
		err     error
	)
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		out, created, err = u.createOnce(ctx, userID, in, method)
		if errors.Is(err, errIdempotencyKeyTaken) {
			// 同じキーの注文が先にコミットされた。次の試行でそれを返す
			logging.FromContext(ctx).Info("idempotency key taken concurrently, loading existing order", zap.Int("attempt", attempt))
			continue
		}
		if !errors.Is(err, errOrderNumberTaken) {
			break
		}
		logging.FromContext(ctx).Warn("order number collision, retrying", zap.Int("attempt", attempt))
	}
	if errors.Is(err, errOrderNumberTaken) {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "could not allocate order number")
	}
	if errors.Is(err, errIdempotencyKeyTaken) {
		return OrderOutput{}, NewHTTPError(http.StatusConflict, "order with this idempotency key is in progress")
	}
	if err != nil {
		return OrderOutput{}, err
	}

	if created {
		u.metrics.OrderCreated(string(out.PaymentMethod))
		u.publishCreated(ctx, out.Order)
	}
	return out, nil
}

func (u *OrderUsecase) createOnce(ctx context.Context, userID int64, in CreateOrderInput, method model.PaymentMethod) (OrderOutput, bool, error) {
	var (
		out     OrderOutput
		created bool
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		if in.IdempotencyKey != "" {
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, in.IdempotencyKey)
			if err != nil {
				return errDB()
			}
			if found {
				o, err := loadOrderOutput(ctx, r, existing)
				if err != nil {
					return err
				}
				out = o
				return nil
			}
		}

		lines, err := resolveLines(ctx, r, userID, in.Items)
		if err != nil {
			return err
		}

		// 在庫を条件付きで減らす（足りなければ減らさない）
		items := make([]model.OrderItem, 0, len(lines))
		for _, ln := range lines {
			p, err := r.Products().FindByID(ctx, ln.ProductID)
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("product not found: %d", ln.ProductID))
			}
			if err != nil {
				return errDB()
			}
			if !p.Sellable() {
				return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("product not available: %s", p.Name))
			}
			if p.Stock < ln.Quantity {
				return outOfStock(p.Name, p.Stock)
			}

			ok, err := r.Stock().DecreaseStockIfEnough(ctx, p.ID, ln.Quantity)
			if err != nil {
				return errDB()
			}
			if !ok {
				// 読んだ後に他の注文に取られた
				latest, err := r.Products().FindByID(ctx, p.ID)
				if err != nil {
					return errDB()
				}
				return outOfStock(p.Name, latest.Stock)
			}
			items = append(items, model.NewOrderItem(p, ln.Quantity))
		}

		now := u.now()
		order := model.Order{
			OrderNumber:     model.NewOrderNumber(now),
			UserID:          userID,
			Items:           items,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   method.Code(),
			PaymentStatus:   model.PaymentStatusPending,
			Status:          model.OrderStatusPending,
			Note:            strings.TrimSpace(in.Note),
			IdempotencyKey:  in.IdempotencyKey,
		}
		order.ComputeTotals()
		order.ShippingFee = u.pricing.ShippingFeeFor(order.Subtotal)
		order.ComputeTotals()

		// 支払い方法ごとの処理
		switch method.(type) {
		case model.WalletPayment:
			if _, err := u.ledger.PurchaseWithin(ctx, r, userID, order.Total, order.OrderNumber); err != nil {
				return err
			}
			order.PaymentStatus = model.PaymentStatusPaid
		case model.CODPayment:
			// 受け取り時に支払う
		}

		if err := r.Orders().Create(ctx, &order); err != nil {
			switch {
			case errors.Is(err, repo.ErrIdempotencyKeyTaken):
				return errIdempotencyKeyTaken
			case errors.Is(err, repo.ErrDuplicate):
				return errOrderNumberTaken
			}
			return errDB()
		}
		if err := r.OrderItems().CreateBulk(ctx, order.ID, items); err != nil {
			return errDB()
		}
		order.Items = items

		out = OrderOutput{Order: order}
		if model.IsGatewayMethod(method) {
			txn, err := startGatewayPayment(ctx, u.gateways, r, &order, method, 1)
			if err != nil {
				return err
			}
			out.Order = order
			out.PaymentURL = txn.RedirectURL
		}
		created = true
		return nil
	})
	if err != nil {
		return OrderOutput{}, false, err
	}
	return out, created, nil
}

type orderLine struct {
	ProductID int64
	Quantity  int64
}

// 同じ商品はまとめ、商品ID順に並べる（行ロックの順序を揃える）
func resolveLines(ctx context.Context, r repo.TxRepos, userID int64, requested []CreateOrderItemInput) ([]orderLine, error) {
	qty := map[int64]int64{}
	if len(requested) > 0 {
		for _, it := range requested {
			qty[it.ProductID] += it.Quantity
		}
	} else {
		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NewHTTPError(http.StatusBadRequest, "cart empty")
		}
		if err != nil {
			return nil, errDB()
		}
		cartItems, err := r.Carts().ListItems(ctx, cart.ID)
		if err != nil {
			return nil, errDB()
		}
		for _, ci := range cartItems {
			if ci.Quantity > 0 {
				qty[ci.ProductID] += ci.Quantity
			}
		}
	}
	if len(qty) == 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "cart empty")
	}

	lines := make([]orderLine, 0, len(qty))
	for id, q := range qty {
		lines = append(lines, orderLine{ProductID: id, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func outOfStock(name string, remaining int64) error {
	if remaining < 0 {
		remaining = 0
	}
	return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("out of stock: %s (remaining %d)", name, remaining))
}

func (u *OrderUsecase) publishCreated(ctx context.Context, o model.Order) {
	ev := eventbus.OrderCreated{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		PaymentMethod: string(o.PaymentMethod),
		Total:         o.Total,
		Items:         itemQuantities(o.Items),
	}
	publish(ctx, u.events, eventbus.TopicOrderCreated, o.ID, ev)
}

// CancelOrder は購入者によるキャンセル（PENDING/CONFIRMEDのみ）。
// 在庫戻しと返金はorder.cancelledのリスナーが非同期に行う。
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID int64, orderID int64, reason string) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "reason too long")
	}

	var (
		out        OrderOutput
		walletPaid bool
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusForbidden, "forbidden")
		}
		if !o.Status.BuyerCancellable() {
			return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("cannot cancel order in status %s", o.Status))
		}

		walletPaid = o.IsWalletPaid()
		version := o.Version
		if err := o.Transition(model.OrderStatusCancelled, u.now()); err != nil {
			return transitionError(err)
		}
		change := repo.OrderStatusChange{
			Status:       o.Status,
			CancelReason: &reason,
			CancelledAt:  o.CancelledAt,
		}
		if walletPaid {
			refunded := model.PaymentStatusRefunded
			change.PaymentStatus = &refunded
			o.PaymentStatus = refunded
		}
		if err := r.Orders().UpdateStatus(ctx, o.ID, version, change); err != nil {
			return orderRepoError(err)
		}
		o.Version = version + 1
		o.CancelReason = reason

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return errDB()
		}
		o.Items = items
		out = OrderOutput{Order: o}
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	publishCancelled(ctx, u.events, out.Order, walletPaid, reason)
	return out, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page int, limit int) (OrderListOutput, error) {
	if userID <= 0 {
		return OrderListOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	page, limit = normalizePage(page, limit)

	var out OrderListOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListByUserID(ctx, userID, page, limit)
		if err != nil {
			return errDB()
		}
		out = OrderListOutput{Items: make([]OrderOutput, 0, len(orders)), Total: total, Page: page, Limit: limit}
		for _, o := range orders {
			oo, err := loadOrderOutput(ctx, r, o)
			if err != nil {
				return err
			}
			out.Items = append(out.Items, oo)
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, err
	}
	return out, nil
}

func (u *OrderUsecase) GetMyOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusForbidden, "forbidden")
		}
		out, err = loadOrderOutput(ctx, r, o)
		return err
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// TrackOrder は注文ステータスと配送業者側の状況を返す。
// 配送業者の障害時も注文ステータスは返す。
func (u *OrderUsecase) TrackOrder(ctx context.Context, userID int64, orderID int64) (TrackingOutput, error) {
	o, err := u.GetMyOrder(ctx, userID, orderID)
	if err != nil {
		return TrackingOutput{}, err
	}
	out := TrackingOutput{
		OrderID:      o.ID,
		OrderNumber:  o.OrderNumber,
		Status:       o.Status,
		ShipmentCode: o.ShipmentCode,
	}
	if o.ShipmentCode == "" {
		return out, nil
	}

	d, err := u.carrier.Detail(ctx, o.ShipmentCode)
	if err != nil {
		logging.FromContext(ctx).Warn("carrier detail failed",
			zap.String("order_number", o.OrderNumber),
			zap.String("shipment_code", o.ShipmentCode),
			zap.Error(err))
		out.CarrierError = "shipping carrier unavailable"
		return out, nil
	}
	out.CarrierStatus = d.Status
	out.Log = d.Log
	return out, nil
}

// 明細とゲートウェイの支払いURLを付けて返す
func loadOrderOutput(ctx context.Context, r repo.TxRepos, o model.Order) (OrderOutput, error) {
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, errDB()
	}
	o.Items = items
	out := OrderOutput{Order: o}

	if o.PaymentStatus == model.PaymentStatusPending && o.PaymentMethod != model.PaymentMethodCOD && o.PaymentMethod != model.PaymentMethodWallet {
		txns, err := r.Transactions().FindByOrderID(ctx, o.ID)
		if err != nil {
			return OrderOutput{}, errDB()
		}
		for _, t := range txns {
			if t.Status == model.TransactionStatusPending {
				out.PaymentURL = t.RedirectURL
				break
			}
		}
	}
	return out, nil
}

func itemQuantities(items []model.OrderItem) []eventbus.ItemQuantity {
	out := make([]eventbus.ItemQuantity, 0, len(items))
	for _, it := range items {
		out = append(out, eventbus.ItemQuantity{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func publishCancelled(ctx context.Context, events eventbus.Publisher, o model.Order, walletPaid bool, reason string) {
	ev := eventbus.OrderCancelled{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		PaymentMethod: string(o.PaymentMethod),
		WalletPaid:    walletPaid,
		Reason:        reason,
		Items:         itemQuantities(o.Items),
	}
	publish(ctx, events, eventbus.TopicOrderCancelled, o.ID, ev)
}

// 発行の失敗はリクエストを失敗にせず、補償漏れとしてログに残す
func publish(ctx context.Context, events eventbus.Publisher, topic string, orderID int64, payload any) {
	pctx := context.WithoutCancel(ctx)
	if err := events.Publish(pctx, topic, strconv.FormatInt(orderID, 10), payload); err != nil {
		logging.FromContext(ctx).Error("publish failed, manual reconciliation required",
			zap.String("topic", topic),
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}
