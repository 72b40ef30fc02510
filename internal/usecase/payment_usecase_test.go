package usecase

import (
	"context"
	"net/http"
	"testing"

	"ordercore/internal/domain/model"
	"ordercore/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayOrder(t *testing.T, env *testEnv, method string) (OrderOutput, model.Transaction) {
	t.Helper()
	p := env.store.addProduct("Widget", 200000, 5)
	out, err := env.orders.CreateOrder(context.Background(), 7, orderInput(method, line(p.ID, 1)))
	require.NoError(t, err)

	txns := memTxns{env.store}.sorted(func(tx model.Transaction) bool { return tx.OrderID == out.ID })
	require.Len(t, txns, 1)
	return out, txns[0]
}

func paidCallback(txn model.Transaction, amount int64) payment.Callback {
	return payment.Callback{
		ExternalID: txn.ExternalID,
		Amount:     amount,
		Paid:       true,
		Event:      "payment.success",
		Raw:        []byte(`{"status":"paid"}`),
	}
}

func TestPaymentUsecase_HandleWebhook_AppliesPayment(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "ZALOPAY")
	env.gateways[model.PaymentMethodZaloPay].callback = paidCallback(txn, out.Total)

	res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodZaloPay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, out.ID, res.OrderID)
	assert.Equal(t, model.PaymentStatusPaid, res.PaymentStatus)

	assert.Equal(t, model.PaymentStatusPaid, env.order(out.ID).PaymentStatus)
	// 支払いでは注文ステータスは進めない
	assert.Equal(t, model.OrderStatusPending, env.order(out.ID).Status)
	stored := env.store.txns[txn.ID]
	assert.Equal(t, model.TransactionStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, fixedNow, *stored.PaidAt)
}

func TestPaymentUsecase_HandleWebhook_ReplayIsNoop(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "PAYPAL")
	env.gateways[model.PaymentMethodPayPal].callback = paidCallback(txn, 0)

	for i := 0; i < 3; i++ {
		res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodPayPal, nil, nil)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	}
	assert.Equal(t, model.PaymentStatusPaid, env.order(out.ID).PaymentStatus)
	assert.Equal(t, model.TransactionStatusPaid, env.store.txns[txn.ID].Status)
}

func TestPaymentUsecase_HandleWebhook_TamperedSignatureChangesNothing(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "ZALOPAY")
	gw := env.gateways[model.PaymentMethodZaloPay]
	gw.callback = paidCallback(txn, out.Total)
	gw.verifyErr = payment.ErrSignature

	res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodZaloPay, []byte(`{"mac":"bad"}`), nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, model.PaymentStatusPending, env.order(out.ID).PaymentStatus)
	assert.Equal(t, model.TransactionStatusPending, env.store.txns[txn.ID].Status)
}

func TestPaymentUsecase_HandleWebhook_AmountBelowTotal(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "SEPAY")
	env.gateways[model.PaymentMethodSePay].callback = paidCallback(txn, out.Total-1)

	res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodSePay, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, model.PaymentStatusPending, res.PaymentStatus)
	assert.Equal(t, model.PaymentStatusPending, env.order(out.ID).PaymentStatus)
	assert.Equal(t, model.TransactionStatusPending, env.store.txns[txn.ID].Status)
}

func TestPaymentUsecase_HandleWebhook_SePayZeroAmountRejected(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "SEPAY")
	env.gateways[model.PaymentMethodSePay].callback = paidCallback(txn, 0)

	res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodSePay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, model.PaymentStatusPending, env.order(out.ID).PaymentStatus)
	assert.Equal(t, model.OrderStatusPending, env.order(out.ID).Status)
	assert.Equal(t, model.TransactionStatusPending, env.store.txns[txn.ID].Status)
	assert.Nil(t, env.store.txns[txn.ID].PaidAt)
}

func TestPaymentUsecase_HandleWebhook_CancelledOrderNotMarkedPaid(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "ZALOPAY")
	_, err := env.orders.CancelOrder(context.Background(), 7, out.ID, "")
	require.NoError(t, err)
	env.gateways[model.PaymentMethodZaloPay].callback = paidCallback(txn, out.Total)

	res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodZaloPay, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, model.PaymentStatusPending, env.order(out.ID).PaymentStatus)
	// 入金の事実は取引に残す
	assert.Equal(t, model.TransactionStatusPaid, env.store.txns[txn.ID].Status)
}

func TestPaymentUsecase_HandleWebhook_IgnoredCallbacks(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "PAYPAL")
	gw := env.gateways[model.PaymentMethodPayPal]

	t.Run("unknown provider", func(t *testing.T) {
		res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodCode("STRIPE"), nil, nil)
		assert.NoError(t, err)
		assert.False(t, res.Accepted)
	})

	t.Run("not a payment event", func(t *testing.T) {
		cb := paidCallback(txn, out.Total)
		cb.Paid = false
		gw.callback = cb
		res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodPayPal, nil, nil)
		assert.NoError(t, err)
		assert.False(t, res.Accepted)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		cb := paidCallback(txn, out.Total)
		cb.ExternalID = "does-not-exist"
		gw.callback = cb
		res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodPayPal, nil, nil)
		assert.NoError(t, err)
		assert.False(t, res.Accepted)
	})

	assert.Equal(t, model.PaymentStatusPending, env.order(out.ID).PaymentStatus)
}

func TestPaymentUsecase_RetryPayment_FailsPreviousAttempt(t *testing.T) {
	env := newTestEnv()
	out, first := gatewayOrder(t, env, "PAYPAL")

	retry, err := env.payments.RetryPayment(context.Background(), 7, out.ID, "https://shop.example.com/ok", "https://shop.example.com/cancel")
	require.NoError(t, err)
	assert.Equal(t, out.ID, retry.OrderID)
	assert.NotEqual(t, first.ExternalID, retry.Transaction.ExternalID)
	assert.Equal(t, retry.Transaction.RedirectURL, retry.PaymentURL)

	assert.Equal(t, model.TransactionStatusFailed, env.store.txns[first.ID].Status)
	assert.Equal(t, model.TransactionStatusPending, env.store.txns[retry.Transaction.ID].Status)
	assert.Equal(t, retry.Transaction.ExternalID, env.order(out.ID).ExternalTxnRef)

	reqs := env.gateways[model.PaymentMethodPayPal].requests
	require.Len(t, reqs, 2)
	assert.Equal(t, 2, reqs[1].Attempt)
	assert.Equal(t, model.PayPalPayment{ReturnURL: "https://shop.example.com/ok", CancelURL: "https://shop.example.com/cancel"}, reqs[1].Method)

	txns, err := env.payments.ListOrderTransactions(context.Background(), 7, out.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestPaymentUsecase_RetryPayment_SePayReusesReference(t *testing.T) {
	env := newTestEnv()
	out, first := gatewayOrder(t, env, "SEPAY")

	retry, err := env.payments.RetryPayment(context.Background(), 7, out.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.Transaction.ID)
	assert.Len(t, env.store.txns, 1)
	assert.Len(t, env.gateways[model.PaymentMethodSePay].requests, 1)
}

func TestPaymentUsecase_RetryPayment_Rules(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "ZALOPAY")

	_, err := env.payments.RetryPayment(context.Background(), 8, out.ID, "", "")
	assertHTTPError(t, err, http.StatusForbidden, "forbidden")

	p := env.store.addProduct("Gadget", 10000, 5)
	cod, err := env.orders.CreateOrder(context.Background(), 7, orderInput("COD", line(p.ID, 1)))
	require.NoError(t, err)
	_, err = env.payments.RetryPayment(context.Background(), 7, cod.ID, "", "")
	assertHTTPError(t, err, http.StatusBadRequest, "not paid through a gateway")

	env.gateways[model.PaymentMethodZaloPay].callback = paidCallback(txn, out.Total)
	_, err = env.payments.HandleWebhook(context.Background(), model.PaymentMethodZaloPay, nil, nil)
	require.NoError(t, err)
	_, err = env.payments.RetryPayment(context.Background(), 7, out.ID, "", "")
	assertHTTPError(t, err, http.StatusBadRequest, "not awaiting payment")
}

func TestPaymentUsecase_RetryPayment_GatewayFailureKeepsOldAttempt(t *testing.T) {
	env := newTestEnv()
	out, first := gatewayOrder(t, env, "ZALOPAY")
	env.gateways[model.PaymentMethodZaloPay].createErr = errGatewayDown

	_, err := env.payments.RetryPayment(context.Background(), 7, out.ID, "", "")
	assert.ErrorIs(t, err, ErrGatewayFailed)
	assert.Equal(t, model.TransactionStatusPending, env.store.txns[first.ID].Status)
}

func TestPaymentUsecase_ListTransactions(t *testing.T) {
	env := newTestEnv()
	gatewayOrder(t, env, "ZALOPAY")
	gatewayOrder(t, env, "PAYPAL")

	out, err := env.payments.ListTransactions(context.Background(), 7, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Total)
	assert.Len(t, out.Items, 1)

	other, err := env.payments.ListTransactions(context.Background(), 8, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.Total)
	assert.Equal(t, 1, other.Page)
	assert.Equal(t, 20, other.Limit)

	_, err = env.payments.ListOrderTransactions(context.Background(), 8, out.Items[0].OrderID)
	assertHTTPError(t, err, http.StatusForbidden, "forbidden")
}

func TestPaymentUsecase_HandleWebhook_SePayMatchesByReference(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "SEPAY")
	require.NotEmpty(t, out.PaymentReference)
	require.NotEqual(t, out.PaymentReference, txn.ExternalID)

	// 振込内容には取引IDではなく支払い参照が入る
	cb := paidCallback(txn, out.Total)
	cb.ExternalID = out.PaymentReference
	env.gateways[model.PaymentMethodSePay].callback = cb

	res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodSePay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, out.ID, res.OrderID)
	assert.Equal(t, model.PaymentStatusPaid, env.order(out.ID).PaymentStatus)
	assert.Equal(t, model.TransactionStatusPaid, env.store.txns[txn.ID].Status)
}

func TestPaymentUsecase_HandleWebhook_ReferenceFallbackOnlyForSePay(t *testing.T) {
	env := newTestEnv()
	out, txn := gatewayOrder(t, env, "ZALOPAY")
	cb := paidCallback(txn, out.Total)
	cb.ExternalID = "unrelated"
	env.gateways[model.PaymentMethodZaloPay].callback = cb

	res, err := env.payments.HandleWebhook(context.Background(), model.PaymentMethodZaloPay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, model.PaymentStatusPending, env.order(out.ID).PaymentStatus)
}
