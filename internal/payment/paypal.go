package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ordercore/internal/domain/model"
	"ordercore/internal/pkg/outbound"
	"ordercore/internal/settings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// 期限の5分前には取り直す
const tokenSafetyMargin = 5 * time.Minute

const (
	PayPalEventOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	PayPalEventCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
)

// PayPal はリダイレクト型ゲートウェイB。
// webhookはPayPal側の検証APIに問い合わせて確認する。
type PayPal struct {
	settings SettingsProvider
	client   *outbound.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	tokenFor  string // 取得したclient_id
	expiresAt time.Time
	group     singleflight.Group
}

func NewPayPal(sp SettingsProvider, client *outbound.Client) *PayPal {
	return &PayPal{settings: sp, client: client, now: time.Now}
}

func (p *PayPal) Provider() model.PaymentMethodCode { return model.PaymentMethodPayPal }

func (p *PayPal) config() (settings.PayPal, error) {
	snap, err := p.settings.Current()
	if err != nil {
		return settings.PayPal{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if !snap.PayPal.Configured() {
		return settings.PayPal{}, ErrNotConfigured
	}
	return snap.PayPal, nil
}

// VNDToUSD はVNDをレートで割り、小数2桁に丸める
func VNDToUSD(amount int64, rate decimal.Decimal) string {
	usd := decimal.NewFromInt(amount).Div(rate).Round(2)
	if floor := decimal.New(1, -2); usd.LessThan(floor) {
		usd = floor
	}
	return usd.StringFixed(2)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken はキャッシュ済みトークンを返す。
// 期限切れ間近なら取り直す。同時に呼ばれても取得は1回にまとめる。
func (p *PayPal) accessToken(ctx context.Context, cfg settings.PayPal) (string, error) {
	p.mu.Lock()
	if p.token != "" && p.tokenFor == cfg.ClientID && p.now().Before(p.expiresAt) {
		tok := p.token
		p.mu.Unlock()
		return tok, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(cfg.ClientID, func() (interface{}, error) {
		// 直前のフライトで取得済みならそれを使う
		p.mu.Lock()
		if p.token != "" && p.tokenFor == cfg.ClientID && p.now().Before(p.expiresAt) {
			tok := p.token
			p.mu.Unlock()
			return tok, nil
		}
		p.mu.Unlock()

		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		req, err := http.NewRequest(http.MethodPost, cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return "", err
		}
		req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		body, err := p.client.Do(ctx, "paypal", "token", req)
		if err != nil {
			return "", err
		}
		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
			return "", fmt.Errorf("decode token response: %v", err)
		}

		ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenSafetyMargin
		if ttl < 0 {
			ttl = 0
		}
		p.mu.Lock()
		p.token = tr.AccessToken
		p.tokenFor = cfg.ClientID
		p.expiresAt = p.now().Add(ttl)
		p.mu.Unlock()
		return tr.AccessToken, nil
	})
	if err != nil {
		return "", gatewayErr("paypal token", err)
	}
	return v.(string), nil
}

func (p *PayPal) doJSON(ctx context.Context, cfg settings.PayPal, op, method, path string, in any, out any) ([]byte, error) {
	tok, err := p.accessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return nil, gatewayErr("paypal "+op, err)
		}
	}
	req, err := http.NewRequest(method, cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, gatewayErr("paypal "+op, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	body, err := p.client.Do(ctx, "paypal", op, req)
	if err != nil {
		return body, gatewayErr("paypal "+op, err)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, gatewayErr("paypal "+op+" decode", err)
		}
	}
	return body, nil
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []paypalLink `json:"links"`
}

func (p *PayPal) CreatePayment(ctx context.Context, req Request) (Result, error) {
	cfg, err := p.config()
	if err != nil {
		return Result{}, err
	}

	var returnURL, cancelURL string
	if m, ok := req.Method.(model.PayPalPayment); ok {
		returnURL, cancelURL = m.ReturnURL, m.CancelURL
	}

	usd := VNDToUSD(req.Amount, cfg.VNDRate)
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderNumber,
			"custom_id":    req.OrderNumber,
			"description":  req.Description,
			"amount": map[string]string{
				"currency_code": "USD",
				"value":         usd,
			},
		}},
		"application_context": map[string]string{
			"return_url":  returnURL,
			"cancel_url":  cancelURL,
			"user_action": "PAY_NOW",
		},
	}

	var order paypalOrder
	body, err := p.doJSON(ctx, cfg, "create", http.MethodPost, "/v2/checkout/orders", payload, &order)
	if err != nil {
		return Result{}, err
	}

	approve := ""
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approve = l.Href
			break
		}
	}
	if order.ID == "" || approve == "" {
		return Result{}, gatewayErr("paypal create", fmt.Errorf("no approve link"))
	}

	return Result{
		ExternalID:     order.ID,
		RedirectURL:    approve,
		ChargeAmount:   usd,
		ChargeCurrency: "USD",
		Payload:        body,
	}, nil
}

// Capture は承認済みのPayPal注文を確定する。
func (p *PayPal) Capture(ctx context.Context, paypalOrderID string) (bool, json.RawMessage, error) {
	cfg, err := p.config()
	if err != nil {
		return false, nil, err
	}
	var order paypalOrder
	body, err := p.doJSON(ctx, cfg, "capture", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(paypalOrderID)+"/capture", nil, &order)
	if err != nil {
		// 既にcapture済み
		if strings.Contains(string(body), "ORDER_ALREADY_CAPTURED") {
			return true, body, nil
		}
		return false, body, err
	}
	return order.Status == "COMPLETED", body, nil
}

type paypalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalCaptureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type paypalOrderResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *PayPal) verifySignature(ctx context.Context, cfg settings.PayPal, body []byte, h http.Header) error {
	if cfg.WebhookID == "" {
		return ErrNotConfigured
	}
	req := map[string]any{
		"auth_algo":         h.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          h.Get("PAYPAL-CERT-URL"),
		"transmission_id":   h.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  h.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": h.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var res struct {
		VerificationStatus string `json:"verification_status"`
	}
	if _, err := p.doJSON(ctx, cfg, "verify", http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &res); err != nil {
		return err
	}
	if res.VerificationStatus != "SUCCESS" {
		return ErrSignature
	}
	return nil
}

func (p *PayPal) Verify(ctx context.Context, body []byte, h http.Header) (Callback, error) {
	cfg, err := p.config()
	if err != nil {
		return Callback{}, err
	}

	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.EventType == "" {
		return Callback{}, fmt.Errorf("%w: malformed event", ErrSignature)
	}
	if err := p.verifySignature(ctx, cfg, body, h); err != nil {
		return Callback{}, err
	}

	switch ev.EventType {
	case PayPalEventOrderApproved:
		var res paypalOrderResource
		if err := json.Unmarshal(ev.Resource, &res); err != nil || res.ID == "" {
			return Callback{}, gatewayErr("paypal approved decode", err)
		}
		paid, raw, err := p.Capture(ctx, res.ID)
		if err != nil {
			return Callback{}, err
		}
		return Callback{ExternalID: res.ID, Paid: paid, Event: ev.EventType, Raw: raw}, nil

	case PayPalEventCaptureComplete:
		var res paypalCaptureResource
		if err := json.Unmarshal(ev.Resource, &res); err != nil {
			return Callback{}, gatewayErr("paypal capture decode", err)
		}
		orderID := res.SupplementaryData.RelatedIDs.OrderID
		if orderID == "" {
			return Callback{}, gatewayErr("paypal capture", fmt.Errorf("no related order id"))
		}
		return Callback{ExternalID: orderID, Paid: res.Status == "COMPLETED", Event: ev.EventType, Raw: ev.Resource}, nil
	}

	// 対象外のイベントは受け取るだけ
	return Callback{Event: ev.EventType, Raw: body}, nil
}
