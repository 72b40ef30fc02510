package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"ordercore/internal/domain/model"
)

const sepayQRBase = "https://qr.sepay.vn/img"

// SePay は銀行振込型ゲートウェイC。
// 注文作成時に振込参照文字列を発行し、入金webhookの内容と照合する。
type SePay struct {
	settings SettingsProvider
}

func NewSePay(sp SettingsProvider) *SePay {
	return &SePay{settings: sp}
}

func (s *SePay) Provider() model.PaymentMethodCode { return model.PaymentMethodSePay }

var nonDigit = regexp.MustCompile(`\D`)

// PaymentReference は <prefix><注文番号の数字部分>
func PaymentReference(prefix, orderNumber string) string {
	return strings.ToUpper(prefix) + nonDigit.ReplaceAllString(orderNumber, "")
}

// CreatePayment は外部APIを呼ばない。参照文字列とQR画像URLを返すだけ。
func (s *SePay) CreatePayment(ctx context.Context, req Request) (Result, error) {
	snap, err := s.settings.Current()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	cfg := snap.SePay
	if !cfg.Configured() {
		return Result{}, ErrNotConfigured
	}

	ref := PaymentReference(cfg.Prefix, req.OrderNumber)
	q := url.Values{}
	q.Set("acc", cfg.BankAccount)
	q.Set("bank", cfg.BankCode)
	q.Set("amount", strconv.FormatInt(req.Amount, 10))
	q.Set("des", ref)
	qr := sepayQRBase + "?" + q.Encode()

	payload, _ := json.Marshal(map[string]any{
		"reference":    ref,
		"qr_url":       qr,
		"bank_account": cfg.BankAccount,
		"bank_code":    cfg.BankCode,
		"amount":       req.Amount,
	})
	return Result{
		ExternalID:  ref,
		RedirectURL: qr,
		Reference:   ref,
		Payload:     payload,
	}, nil
}

type sepayWebhook struct {
	ID             int64  `json:"id"`
	Gateway        string `json:"gateway"`
	AccountNumber  string `json:"accountNumber"`
	Code           string `json:"code"`
	Content        string `json:"content"`
	TransferType   string `json:"transferType"`
	TransferAmount int64  `json:"transferAmount"`
	ReferenceCode  string `json:"referenceCode"`
}

// Verify は Authorization: Apikey <secret> を確認し、
// content/code から参照文字列を取り出す。
func (s *SePay) Verify(ctx context.Context, body []byte, h http.Header) (Callback, error) {
	snap, err := s.settings.Current()
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	cfg := snap.SePay
	if !cfg.Configured() {
		return Callback{}, ErrNotConfigured
	}

	auth := strings.TrimSpace(h.Get("Authorization"))
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Apikey") || !equalMAC(cfg.APIKey, strings.TrimSpace(parts[1])) {
		return Callback{}, ErrSignature
	}

	var wh sepayWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return Callback{}, fmt.Errorf("%w: malformed body", ErrSignature)
	}

	ref := ExtractReference(cfg.Prefix, wh.Code)
	if ref == "" {
		ref = ExtractReference(cfg.Prefix, wh.Content)
	}
	// 金額のない入金通知は支払いとみなさない
	return Callback{
		ExternalID: ref,
		Amount:     wh.TransferAmount,
		Paid:       wh.TransferType == "in" && ref != "" && wh.TransferAmount > 0,
		Event:      "transfer_" + wh.TransferType,
		Raw:        body,
	}, nil
}

// ExtractReference は振込内容から <prefix><数字> を探す（大文字小文字は無視）
func ExtractReference(prefix, text string) string {
	if prefix == "" || text == "" {
		return ""
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(prefix) + `\d+`)
	if err != nil {
		return ""
	}
	return strings.ToUpper(re.FindString(text))
}
