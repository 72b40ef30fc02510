package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"ordercore/internal/domain/model"
	"ordercore/internal/eventbus"
	repo "ordercore/internal/repository"
	"ordercore/internal/shipping"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminID int64 = 1

func placeOrder(t *testing.T, env *testEnv, method string, qty int64) (OrderOutput, model.Product) {
	t.Helper()
	p := env.store.addProduct("Widget", 200000, 5)
	if method == "WALLET" {
		env.store.addWallet(7, 1000000)
	}
	out, err := env.orders.CreateOrder(context.Background(), 7, orderInput(method, line(p.ID, qty)))
	require.NoError(t, err)
	return out, p
}

func (e *testEnv) setStatus(orderID int64, s model.OrderStatus) {
	o := e.store.orders[orderID]
	o.Status = s
	e.store.orders[orderID] = o
}

func TestAdminOrderUsecase_UpdateStatus_AdvancesAndAudits(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)

	v := out.Version
	got, err := env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "confirmed", Version: &v})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
	assert.Equal(t, out.Version+1, got.Version)
	assert.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, model.OrderStatusConfirmed, env.order(out.ID).Status)

	require.Len(t, env.store.audits, 1)
	a := env.store.audits[0]
	assert.Equal(t, adminID, a.ActorUserID)
	assert.Equal(t, model.AuditActionUpdateOrderStatus, a.Action)
	assert.Equal(t, out.ID, a.ResourceID)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(a.Before))
	assert.JSONEq(t, `{"status":"CONFIRMED","reason":""}`, string(a.After))
}

func TestAdminOrderUsecase_UpdateStatus_StaleVersion(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)

	stale := out.Version
	_, err := env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "CONFIRMED", Version: &stale})
	require.NoError(t, err)

	_, err = env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "PROCESSING", Version: &stale})
	assert.ErrorIs(t, err, ErrOrderConflict)
	assert.Equal(t, model.OrderStatusConfirmed, env.order(out.ID).Status)
	assert.Len(t, env.store.audits, 1)
}

func TestAdminOrderUsecase_UpdateStatus_RejectsIllegalTransition(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)
	_, err := env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "CANCELLED"})
	require.NoError(t, err)

	_, err = env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "CONFIRMED"})
	assertHTTPError(t, err, http.StatusBadRequest, "CANCELLED -> CONFIRMED")
	assert.Equal(t, model.OrderStatusCancelled, env.order(out.ID).Status)

	_, err = env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "LOST"})
	assertHTTPError(t, err, http.StatusBadRequest, "invalid status")

	_, err = env.admin.UpdateStatus(context.Background(), adminID, 9999, AdminUpdateOrderStatusInput{Status: "CONFIRMED"})
	assertHTTPError(t, err, http.StatusNotFound, "not found")
}

func TestAdminOrderUsecase_UpdateStatus_CancelRestocksNowAndRefundsViaListener(t *testing.T) {
	env := newTestEnv()
	out, p := placeOrder(t, env, "WALLET", 2)
	require.Equal(t, int64(3), env.stock(p.ID))

	got, err := env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "CANCELLED", Reason: "fraud check"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Equal(t, model.PaymentStatusRefunded, got.PaymentStatus)
	assert.Equal(t, "fraud check", env.order(out.ID).CancelReason)
	// 在庫はその場で戻る
	assert.Equal(t, int64(5), env.stock(p.ID))

	ev, ok := env.events.last(eventbus.TopicOrderCancelled)
	require.True(t, ok)
	cancelled := ev.Payload.(eventbus.OrderCancelled)
	assert.True(t, cancelled.WalletPaid)
	assert.Equal(t, "fraud check", cancelled.Reason)

	require.NoError(t, env.deliverCancelled())
	assert.Equal(t, int64(5), env.stock(p.ID))
	assert.Len(t, env.store.entriesOf(7, model.WalletTxRefund), 1)
	assert.Equal(t, int64(1000000), env.store.walletOf(7).Balance)
}

func TestAdminOrderUsecase_UpdateStatus_RefundDeliveredWalletOrder(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "WALLET", 1)
	env.setStatus(out.ID, model.OrderStatusDelivered)

	got, err := env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "REFUNDED"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, got.Status)
	assert.Equal(t, model.PaymentStatusRefunded, got.PaymentStatus)

	refunds := env.store.entriesOf(7, model.WalletTxRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, out.Total, refunds[0].Amount)
	assert.Equal(t, int64(1000000), env.store.walletOf(7).Balance)
	// REFUNDEDはキャンセルイベントを出さない
	_, ok := env.events.last(eventbus.TopicOrderCancelled)
	assert.False(t, ok)
}

func TestAdminOrderUsecase_UpdatePaymentStatus(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)

	got, err := env.admin.UpdatePaymentStatus(context.Background(), adminID, out.ID, AdminUpdatePaymentStatusInput{PaymentStatus: "paid"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, model.PaymentStatusPaid, env.order(out.ID).PaymentStatus)
	require.Len(t, env.store.audits, 1)
	assert.Equal(t, model.AuditActionUpdatePaymentStatus, env.store.audits[0].Action)

	// 同じ値では監査ログを増やさない
	_, err = env.admin.UpdatePaymentStatus(context.Background(), adminID, out.ID, AdminUpdatePaymentStatusInput{PaymentStatus: "PAID"})
	require.NoError(t, err)
	assert.Len(t, env.store.audits, 1)

	_, err = env.admin.UpdatePaymentStatus(context.Background(), adminID, out.ID, AdminUpdatePaymentStatusInput{PaymentStatus: "SETTLED"})
	assertHTTPError(t, err, http.StatusBadRequest, "invalid payment_status")
}

func TestAdminOrderUsecase_Search_Validation(t *testing.T) {
	env := newTestEnv()
	placeOrder(t, env, "COD", 1)

	cases := []struct {
		name string
		f    repo.AdminOrderListFilter
		want string
	}{
		{"page", repo.AdminOrderListFilter{Page: 0, Limit: 10}, "invalid page"},
		{"limit", repo.AdminOrderListFilter{Page: 1, Limit: 101}, "invalid limit"},
		{"status", repo.AdminOrderListFilter{Page: 1, Limit: 10, Status: "LOST"}, "invalid status"},
		{"payment status", repo.AdminOrderListFilter{Page: 1, Limit: 10, PaymentStatus: "NOPE"}, "invalid payment_status"},
		{"payment method", repo.AdminOrderListFilter{Page: 1, Limit: 10, PaymentMethod: "CASH"}, "invalid payment_method"},
		{"range", repo.AdminOrderListFilter{Page: 1, Limit: 10, From: &fixedNow, To: ptrTime(fixedNow.AddDate(0, 0, -1))}, "invalid date range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.admin.Search(context.Background(), tc.f)
			assertHTTPError(t, err, http.StatusBadRequest, tc.want)
		})
	}

	out, err := env.admin.Search(context.Background(), repo.AdminOrderListFilter{Page: 1, Limit: 10, PaymentMethod: "cod"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Total)
	assert.Len(t, out.Items[0].Items, 1)
}

func TestAdminOrderUsecase_Stats(t *testing.T) {
	env := newTestEnv()
	placeOrder(t, env, "WALLET", 1)

	st, err := env.admin.Stats(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalOrders)
	assert.Equal(t, int64(230000), st.PaidRevenue)
	assert.Equal(t, int64(1), st.ByStatus[model.OrderStatusPending])
}

func TestAdminOrderUsecase_CreateShipment(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 2)

	_, err := env.admin.CreateShipment(context.Background(), adminID, out.ID, CreateShipmentInput{})
	assertHTTPError(t, err, http.StatusBadRequest, "cannot ship order in status PENDING")

	env.setStatus(out.ID, model.OrderStatusConfirmed)
	got, err := env.admin.CreateShipment(context.Background(), adminID, out.ID, CreateShipmentInput{Note: "fragile"})
	require.NoError(t, err)
	assert.Equal(t, "GHN"+out.OrderNumber, got.ShipmentCode)
	assert.Equal(t, model.OrderStatusProcessing, got.Status)
	assert.Equal(t, model.OrderStatusProcessing, env.order(out.ID).Status)

	require.Len(t, env.carrier.created, 1)
	req := env.carrier.created[0]
	assert.Equal(t, out.OrderNumber, req.ClientOrderCode)
	assert.Equal(t, out.Total, req.CODAmount)
	assert.Equal(t, out.Subtotal, req.InsuranceValue)
	assert.Equal(t, int64(2*defaultItemWeight), req.Weight)
	assert.Equal(t, "12 Le Loi, Ben Nghe, Quan 1, Ho Chi Minh", req.ToAddress)
	assert.Equal(t, "fragile", req.Note)

	require.NotEmpty(t, env.store.audits)
	assert.Equal(t, model.AuditActionCreateShipment, env.store.audits[len(env.store.audits)-1].Action)

	_, err = env.admin.CreateShipment(context.Background(), adminID, out.ID, CreateShipmentInput{})
	assertHTTPError(t, err, http.StatusConflict, "shipment already created")
	assert.Len(t, env.carrier.created, 1)
}

func TestAdminOrderUsecase_CreateShipment_PrepaidHasNoCOD(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "WALLET", 1)
	env.setStatus(out.ID, model.OrderStatusConfirmed)

	_, err := env.admin.CreateShipment(context.Background(), adminID, out.ID, CreateShipmentInput{Weight: 1200})
	require.NoError(t, err)
	require.Len(t, env.carrier.created, 1)
	assert.Equal(t, int64(0), env.carrier.created[0].CODAmount)
	assert.Equal(t, int64(1200), env.carrier.created[0].Weight)
}

func TestAdminOrderUsecase_CreateShipment_CarrierFailure(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)
	env.setStatus(out.ID, model.OrderStatusConfirmed)
	env.carrier.createErr = errors.New("ghn 500")

	_, err := env.admin.CreateShipment(context.Background(), adminID, out.ID, CreateShipmentInput{})
	assert.ErrorIs(t, err, ErrCarrierFailed)
	assert.Empty(t, env.order(out.ID).ShipmentCode)
	assert.Equal(t, model.OrderStatusConfirmed, env.order(out.ID).Status)
}

func TestAdminOrderUsecase_CreateShipment_AdoptsExistingCarrierOrder(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)
	env.setStatus(out.ID, model.OrderStatusConfirmed)
	env.carrier.createErr = errors.New("read timeout")
	env.carrier.byClientCode = map[string]shipping.ShipmentDetail{
		out.OrderNumber: {OrderCode: "GHNLOST1", ClientOrderCode: out.OrderNumber, Status: "ready_to_pick"},
	}

	got, err := env.admin.CreateShipment(context.Background(), adminID, out.ID, CreateShipmentInput{})
	require.NoError(t, err)
	assert.Equal(t, "GHNLOST1", got.ShipmentCode)
	assert.Equal(t, model.OrderStatusProcessing, env.order(out.ID).Status)
}

func TestAdminOrderUsecase_PrintLabel(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)

	_, err := env.admin.PrintLabel(context.Background(), out.ID)
	assertHTTPError(t, err, http.StatusBadRequest, "order has no shipment")

	o := env.store.orders[out.ID]
	o.ShipmentCode = "GHN1"
	env.store.orders[out.ID] = o
	label, err := env.admin.PrintLabel(context.Background(), out.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, label.URL)

	env.carrier.labelErr = errors.New("down")
	_, err = env.admin.PrintLabel(context.Background(), out.ID)
	assert.ErrorIs(t, err, ErrCarrierFailed)
}

func TestAdminOrderUsecase_ApplyShipmentStatus_WalksIntermediateStates(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)
	env.setStatus(out.ID, model.OrderStatusConfirmed)
	before := env.order(out.ID).Version

	changed, err := env.admin.ApplyShipmentStatus(context.Background(), out.ID, model.OrderStatusDelivered)
	require.NoError(t, err)
	assert.True(t, changed)

	o := env.order(out.ID)
	assert.Equal(t, model.OrderStatusDelivered, o.Status)
	assert.Equal(t, before+3, o.Version)
	assert.NotNil(t, o.ShippedAt)
	assert.NotNil(t, o.DeliveredAt)

	changed, err = env.admin.ApplyShipmentStatus(context.Background(), out.ID, model.OrderStatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = env.admin.ApplyShipmentStatus(context.Background(), out.ID, model.OrderStatusShipping)
	assertHTTPError(t, err, http.StatusBadRequest, "DELIVERED -> SHIPPING")
}

func TestAdminOrderUsecase_ApplyShipmentStatus_IgnoresFinishedOrder(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)
	env.setStatus(out.ID, model.OrderStatusCancelled)
	before := env.order(out.ID).Version

	changed, err := env.admin.ApplyShipmentStatus(context.Background(), out.ID, model.OrderStatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.OrderStatusCancelled, env.order(out.ID).Status)
	assert.Equal(t, before, env.order(out.ID).Version)
}

func TestAdminOrderUsecase_ApplyShipmentStatus_CarrierCancel(t *testing.T) {
	env := newTestEnv()
	out, p := placeOrder(t, env, "COD", 2)
	env.setStatus(out.ID, model.OrderStatusShipping)

	changed, err := env.admin.ApplyShipmentStatus(context.Background(), out.ID, model.OrderStatusCancelled)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(5), env.stock(p.ID))
	assert.Equal(t, "carrier: cancelled", env.order(out.ID).CancelReason)

	ev, ok := env.events.last(eventbus.TopicOrderCancelled)
	require.True(t, ok)
	assert.Equal(t, out.ID, ev.Payload.(eventbus.OrderCancelled).OrderID)

	require.NoError(t, env.deliverCancelled())
	assert.Equal(t, int64(5), env.stock(p.ID))
}

func TestAdminOrderUsecase_AuditTrail(t *testing.T) {
	env := newTestEnv()
	out, _ := placeOrder(t, env, "COD", 1)
	other, _ := placeOrder(t, env, "COD", 1)

	_, err := env.admin.UpdateStatus(context.Background(), adminID, out.ID, AdminUpdateOrderStatusInput{Status: "CONFIRMED"})
	require.NoError(t, err)
	_, err = env.admin.UpdatePaymentStatus(context.Background(), adminID, out.ID, AdminUpdatePaymentStatusInput{PaymentStatus: "PAID"})
	require.NoError(t, err)
	_, err = env.admin.UpdateStatus(context.Background(), adminID, other.ID, AdminUpdateOrderStatusInput{Status: "CONFIRMED"})
	require.NoError(t, err)

	trail, err := env.admin.AuditTrail(context.Background(), out.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), trail.Total)
	require.Len(t, trail.Items, 2)
	assert.Equal(t, model.AuditActionUpdatePaymentStatus, trail.Items[0].Action)
	assert.Equal(t, model.AuditActionUpdateOrderStatus, trail.Items[1].Action)

	firstPage, err := env.admin.AuditTrail(context.Background(), out.ID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), firstPage.Total)
	require.Len(t, firstPage.Items, 1)
	assert.Equal(t, model.AuditActionUpdatePaymentStatus, firstPage.Items[0].Action)

	untouched, _ := placeOrder(t, env, "COD", 1)
	empty, err := env.admin.AuditTrail(context.Background(), untouched.ID, 1, 20)
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)

	_, err = env.admin.AuditTrail(context.Background(), 9999, 1, 20)
	assertHTTPError(t, err, http.StatusNotFound, "not found")
}
