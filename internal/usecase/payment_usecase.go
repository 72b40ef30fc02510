package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ordercore/internal/domain/model"
	"ordercore/internal/payment"
	"ordercore/internal/pkg/logging"
	"ordercore/internal/pkg/metrics"
	repo "ordercore/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type PaymentUsecase struct {
	tx       repo.TransactionManager
	gateways GatewayRegistry
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewPaymentUsecase(tx repo.TransactionManager, gateways GatewayRegistry, m *metrics.Metrics) *PaymentUsecase {
	return &PaymentUsecase{
		tx:       tx,
		gateways: gateways,
		metrics:  m,
		now:      time.Now,
	}
}

// WebhookResult は呼び出し元（ハンドラ）への結果。
// ゲートウェイへの応答は常に成功で返す。
type WebhookResult struct {
	Accepted      bool                `json:"accepted"`
	OrderID       int64               `json:"order_id,omitempty"`
	PaymentStatus model.PaymentStatus `json:"payment_status,omitempty"`
}

type TransactionListOutput struct {
	Items []model.Transaction `json:"items"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

type RetryPaymentOutput struct {
	OrderID     int64             `json:"order_id"`
	Transaction model.Transaction `json:"transaction"`
	PaymentURL  string            `json:"payment_url"`
}

// HandleWebhook は検証済みのコールバックを取引と注文に反映する。
// 検証失敗や対象不明はエラーにせずAccepted=falseで返す（再送させない）。
func (u *PaymentUsecase) HandleWebhook(ctx context.Context, provider model.PaymentMethodCode, body []byte, header http.Header) (WebhookResult, error) {
	log := logging.FromContext(ctx).With(zap.String("provider", string(provider)))

	gw, err := u.gateways.Get(provider)
	if err != nil {
		log.Warn("webhook for unknown provider", zap.Error(err))
		u.metrics.Webhook(string(provider), "unknown_provider")
		return WebhookResult{}, nil
	}

	cb, err := gw.Verify(ctx, body, header)
	if err != nil {
		log.Warn("webhook rejected", zap.Error(err))
		u.metrics.Webhook(string(provider), "rejected")
		return WebhookResult{}, nil
	}
	log = log.With(zap.String("external_id", cb.ExternalID), zap.String("event", cb.Event))
	if !cb.Paid {
		log.Info("webhook ignored, not a payment")
		u.metrics.Webhook(string(provider), "ignored")
		return WebhookResult{}, nil
	}

	var (
		res     WebhookResult
		outcome = "applied"
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		txn, err := findWebhookTransaction(ctx, r, provider, cb.ExternalID)
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn("webhook for unknown transaction")
			outcome = "unknown_transaction"
			return nil
		}
		if err != nil {
			return errDB()
		}

		o, err := r.Orders().FindByID(ctx, txn.OrderID)
		if err != nil {
			return orderRepoError(err)
		}
		log = log.With(zap.String("order_number", o.OrderNumber))
		res.OrderID = o.ID

		expected := txn.Amount
		if expected == 0 {
			expected = o.Total
		}
		// SePayは金額が必ず届くので0でも照合する
		if (provider == model.PaymentMethodSePay || cb.Amount > 0) && cb.Amount < expected {
			log.Warn("webhook amount below order total",
				zap.Int64("amount", cb.Amount),
				zap.Int64("expected", expected))
			outcome = "amount_mismatch"
			res.PaymentStatus = o.PaymentStatus
			return nil
		}

		now := u.now()
		if txn.Status != model.TransactionStatusPaid {
			fields := map[string]interface{}{
				"status":  model.TransactionStatusPaid,
				"paid_at": now,
			}
			if len(cb.Raw) > 0 {
				fields["provider_payload"] = datatypes.JSON(cb.Raw)
			}
			if err := r.Transactions().Update(ctx, txn.ID, fields); err != nil {
				return errDB()
			}
		}

		// 取消済みの注文には入金を反映しない（手動で返金）
		if o.Status == model.OrderStatusCancelled {
			log.Error("payment received for cancelled order, manual refund required",
				zap.Int64("amount", cb.Amount))
			outcome = "cancelled_order"
			res.PaymentStatus = o.PaymentStatus
			return nil
		}

		applied, err := r.Orders().UpdatePaymentStatus(ctx, o.ID, model.PaymentStatusPaid, cb.ExternalID)
		if err != nil {
			return orderRepoError(err)
		}
		if !applied {
			outcome = "duplicate"
		}
		res.Accepted = true
		res.PaymentStatus = model.PaymentStatusPaid
		return nil
	})
	if err != nil {
		log.Error("webhook apply failed", zap.Error(err))
		u.metrics.Webhook(string(provider), "error")
		return WebhookResult{}, err
	}

	u.metrics.Webhook(string(provider), outcome)
	if outcome == "applied" {
		log.Info("payment applied", zap.Int64("order_id", res.OrderID))
	}
	return res, nil
}

// RetryPayment はPENDINGのゲートウェイ注文に新しい支払いを作り直す。
// 前のPENDING取引はFAILEDにするので、有効な取引は常に1つ。
func (u *PaymentUsecase) RetryPayment(ctx context.Context, userID int64, orderID int64, returnURL string, cancelURL string) (RetryPaymentOutput, error) {
	if userID <= 0 {
		return RetryPaymentOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return RetryPaymentOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out RetryPaymentOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusForbidden, "forbidden")
		}
		method, ok := model.ParsePaymentMethod(string(o.PaymentMethod), returnURL, cancelURL)
		if !ok || !model.IsGatewayMethod(method) {
			return NewHTTPError(http.StatusBadRequest, "order is not paid through a gateway")
		}
		if o.Status != model.OrderStatusPending || o.PaymentStatus != model.PaymentStatusPending {
			return NewHTTPError(http.StatusBadRequest, "order is not awaiting payment")
		}

		txns, err := r.Transactions().FindByOrderID(ctx, o.ID)
		if err != nil {
			return errDB()
		}

		// 振込参照は注文ごとに固定なので既存の取引をそのまま返す
		if _, isSePay := method.(model.SePayPayment); isSePay {
			for _, t := range txns {
				if t.Status == model.TransactionStatusPending {
					out = RetryPaymentOutput{OrderID: o.ID, Transaction: t, PaymentURL: t.RedirectURL}
					return nil
				}
			}
		}

		for _, t := range txns {
			if t.Status != model.TransactionStatusPending {
				continue
			}
			if err := r.Transactions().Update(ctx, t.ID, map[string]interface{}{"status": model.TransactionStatusFailed}); err != nil {
				return errDB()
			}
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return errDB()
		}
		o.Items = items

		txn, err := startGatewayPayment(ctx, u.gateways, r, &o, method, len(txns)+1)
		if err != nil {
			return err
		}
		out = RetryPaymentOutput{OrderID: o.ID, Transaction: txn, PaymentURL: txn.RedirectURL}
		return nil
	})
	if err != nil {
		return RetryPaymentOutput{}, err
	}
	return out, nil
}

func (u *PaymentUsecase) ListTransactions(ctx context.Context, userID int64, page int, limit int) (TransactionListOutput, error) {
	if userID <= 0 {
		return TransactionListOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	page, limit = normalizePage(page, limit)

	var out TransactionListOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		txns, total, err := r.Transactions().FindByUserID(ctx, userID, limit, (page-1)*limit)
		if err != nil {
			return errDB()
		}
		out = TransactionListOutput{Items: txns, Total: total, Page: page, Limit: limit}
		return nil
	})
	if err != nil {
		return TransactionListOutput{}, err
	}
	return out, nil
}

func (u *PaymentUsecase) ListOrderTransactions(ctx context.Context, userID int64, orderID int64) ([]model.Transaction, error) {
	if userID <= 0 {
		return nil, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out []model.Transaction
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		if o.UserID != userID {
			return NewHTTPError(http.StatusForbidden, "forbidden")
		}
		out, err = r.Transactions().FindByOrderID(ctx, o.ID)
		if err != nil {
			return errDB()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// startGatewayPayment はゲートウェイで支払いを作り、注文に参照を書き、
// PENDINGの取引を1件保存する。呼び出し側のトランザクション内で使う。
func startGatewayPayment(ctx context.Context, gateways GatewayRegistry, r repo.TxRepos, o *model.Order, method model.PaymentMethod, attempt int) (model.Transaction, error) {
	log := logging.FromContext(ctx).With(
		zap.String("order_number", o.OrderNumber),
		zap.String("provider", string(method.Code())))

	gw, err := gateways.Get(method.Code())
	if err != nil {
		log.Error("no gateway for method", zap.Error(err))
		return model.Transaction{}, ErrGatewayFailed
	}

	res, err := gw.CreatePayment(ctx, payment.Request{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Amount:      o.Total,
		Description: "Payment for order " + o.OrderNumber,
		Items:       o.Items,
		Method:      method,
		Attempt:     attempt,
	})
	if err != nil {
		log.Error("create payment failed", zap.Int("attempt", attempt), zap.Error(err))
		return model.Transaction{}, ErrGatewayFailed
	}

	if err := r.Orders().SetPaymentReference(ctx, o.ID, res.Reference, res.ExternalID); err != nil {
		return model.Transaction{}, orderRepoError(err)
	}
	o.PaymentReference = res.Reference
	o.ExternalTxnRef = res.ExternalID

	// 金額と通貨は注文のVNDのまま。外貨の請求額は別に持つ
	txn := model.Transaction{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Amount:         o.Total,
		Currency:       "VND",
		ChargeAmount:   res.ChargeAmount,
		ChargeCurrency: res.ChargeCurrency,
		Provider:       method.Code(),
		ExternalID:     res.ExternalID,
		RedirectURL:    res.RedirectURL,
		Status:         model.TransactionStatusPending,
	}
	if len(res.Payload) > 0 {
		txn.ProviderPayload = datatypes.JSON(res.Payload)
	}
	if err := r.Transactions().Create(ctx, &txn); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			log.Error("gateway returned an external id already recorded", zap.String("external_id", res.ExternalID))
			return model.Transaction{}, ErrGatewayFailed
		}
		return model.Transaction{}, errDB()
	}
	return txn, nil
}

// SePayの振込内容に入るのは注文の支払い参照。取引IDで引けなければ参照から注文を辿り、最新の試行を使う
func findWebhookTransaction(ctx context.Context, r repo.TxRepos, provider model.PaymentMethodCode, externalID string) (model.Transaction, error) {
	txn, err := r.Transactions().FindByExternalID(ctx, provider, externalID)
	if !errors.Is(err, repo.ErrNotFound) || provider != model.PaymentMethodSePay {
		return txn, err
	}

	o, err := r.Orders().FindByPaymentReference(ctx, externalID)
	if err != nil {
		return model.Transaction{}, err
	}
	txns, err := r.Transactions().FindByOrderID(ctx, o.ID)
	if err != nil {
		return model.Transaction{}, err
	}
	var latest model.Transaction
	for _, t := range txns {
		if t.Provider == provider && t.ID > latest.ID {
			latest = t
		}
	}
	if latest.ID == 0 {
		return model.Transaction{}, repo.ErrNotFound
	}
	return latest, nil
}
