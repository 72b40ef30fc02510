package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ordercore/internal/domain/model"
	"ordercore/internal/settings"
)

var (
	// 外部APIの失敗（タイムアウト、2xx以外、デコード失敗）
	ErrGateway = errors.New("payment gateway error")
	// webhookの署名・認証が合わない
	ErrSignature = errors.New("invalid webhook signature")
	// 認証情報が設定ストアに無い
	ErrNotConfigured   = errors.New("payment gateway not configured")
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// Request は支払い作成に必要な注文の情報
type Request struct {
	OrderID     int64
	OrderNumber string
	UserID      int64
	Amount      int64 // VND
	Description string
	Items       []model.OrderItem
	Method      model.PaymentMethod
	// 同じ注文での何回目の試行か（1始まり）
	Attempt int
}

type Result struct {
	ExternalID  string
	RedirectURL string
	// SePayの振込参照文字列（注文に埋め込む）
	Reference string
	// ゲートウェイがVND以外で請求するときの実額（PayPalはUSD）
	ChargeAmount   string
	ChargeCurrency string
	Payload        json.RawMessage
}

// Callback は検証済みのwebhook内容
type Callback struct {
	ExternalID string
	// ゲートウェイ側の金額（VND）。0なら金額照合しない（SePayは常に照合する）
	Amount int64
	Paid   bool
	Event  string
	Raw    json.RawMessage
}

type Gateway interface {
	Provider() model.PaymentMethodCode
	CreatePayment(ctx context.Context, req Request) (Result, error)
	// 署名・認証を検証して内容を返す。不正ならErrSignature
	Verify(ctx context.Context, body []byte, header http.Header) (Callback, error)
}

type SettingsProvider interface {
	Current() (settings.Snapshot, error)
}

// Registry は支払い方法コードからアダプタを引く
type Registry struct {
	gateways map[model.PaymentMethodCode]Gateway
}

func NewRegistry(gs ...Gateway) *Registry {
	r := &Registry{gateways: make(map[model.PaymentMethodCode]Gateway, len(gs))}
	for _, g := range gs {
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Get(code model.PaymentMethodCode) (Gateway, error) {
	g, ok := r.gateways[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, code)
	}
	return g, nil
}

func gatewayErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrGateway, op, err)
}
