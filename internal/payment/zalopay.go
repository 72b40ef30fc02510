package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ordercore/internal/domain/model"
	"ordercore/internal/pkg/outbound"
)

// ZaloPay はリダイレクト型ゲートウェイA。
// 作成時はkey1、コールバックはkey2でHMAC-SHA256を検証する。
type ZaloPay struct {
	settings    SettingsProvider
	client      *outbound.Client
	callbackURL string
	now         func() time.Time
}

func NewZaloPay(sp SettingsProvider, client *outbound.Client, callbackURL string) *ZaloPay {
	return &ZaloPay{settings: sp, client: client, callbackURL: callbackURL, now: time.Now}
}

func (z *ZaloPay) Provider() model.PaymentMethodCode { return model.PaymentMethodZaloPay }

type zaloCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	SubReturnCode int    `json:"sub_return_code"`
	OrderURL      string `json:"order_url"`
	ZpTransToken  string `json:"zp_trans_token"`
}

type zaloItem struct {
	ProductID int64  `json:"itemid"`
	Name      string `json:"itemname"`
	Price     int64  `json:"itemprice"`
	Quantity  int64  `json:"itemquantity"`
}

// app_trans_id は yymmdd_<注文番号>。再試行時は末尾に _<回数>
func ZaloPayTransID(now time.Time, orderNumber string, attempt int) string {
	id := now.Format("060102") + "_" + orderNumber
	if attempt > 1 {
		id += "_" + strconv.Itoa(attempt)
	}
	return id
}

func (z *ZaloPay) CreatePayment(ctx context.Context, req Request) (Result, error) {
	snap, err := z.settings.Current()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	cfg := snap.ZaloPay
	if !cfg.Configured() {
		return Result{}, ErrNotConfigured
	}

	now := z.now()
	transID := ZaloPayTransID(now, req.OrderNumber, req.Attempt)
	appTime := strconv.FormatInt(now.UnixMilli(), 10)
	appUser := strconv.FormatInt(req.UserID, 10)

	redirect := ""
	if m, ok := req.Method.(model.ZaloPayPayment); ok {
		redirect = m.RedirectURL
	}
	embed, _ := json.Marshal(map[string]string{"redirecturl": redirect, "order_number": req.OrderNumber})

	items := make([]zaloItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, zaloItem{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     model.EffectivePrice(it.PriceSnapshot, it.SalePriceSnapshot),
			Quantity:  it.Quantity,
		})
	}
	itemJSON, _ := json.Marshal(items)
	amount := strconv.FormatInt(req.Amount, 10)

	// app_id|app_trans_id|app_user|amount|app_time|embed_data|item
	macData := strings.Join([]string{cfg.AppID, transID, appUser, amount, appTime, string(embed), string(itemJSON)}, "|")

	form := url.Values{}
	form.Set("app_id", cfg.AppID)
	form.Set("app_trans_id", transID)
	form.Set("app_user", appUser)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("item", string(itemJSON))
	form.Set("embed_data", string(embed))
	form.Set("description", req.Description)
	form.Set("bank_code", "")
	form.Set("callback_url", z.callbackURL)
	form.Set("mac", hmacSHA256Hex(cfg.Key1, macData))

	httpReq, err := http.NewRequest(http.MethodPost, cfg.Endpoint+"/create", strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, gatewayErr("zalopay create", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := z.client.Do(ctx, "zalopay", "create", httpReq)
	if err != nil {
		return Result{}, gatewayErr("zalopay create", err)
	}

	var res zaloCreateResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, gatewayErr("zalopay decode", err)
	}
	if res.ReturnCode != 1 || res.OrderURL == "" {
		return Result{}, gatewayErr("zalopay create", fmt.Errorf("return_code=%d %s", res.ReturnCode, res.ReturnMessage))
	}

	return Result{
		ExternalID:  transID,
		RedirectURL: res.OrderURL,
		Payload:     body,
	}, nil
}

type zaloCallback struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type zaloCallbackData struct {
	AppID      int64  `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	Amount     int64  `json:"amount"`
	ZpTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
}

func (z *ZaloPay) Verify(ctx context.Context, body []byte, _ http.Header) (Callback, error) {
	snap, err := z.settings.Current()
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if !snap.ZaloPay.Configured() {
		return Callback{}, ErrNotConfigured
	}

	var cb zaloCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Data == "" {
		return Callback{}, fmt.Errorf("%w: malformed body", ErrSignature)
	}
	if !equalMAC(hmacSHA256Hex(snap.ZaloPay.Key2, cb.Data), cb.Mac) {
		return Callback{}, ErrSignature
	}

	var data zaloCallbackData
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		return Callback{}, fmt.Errorf("%w: malformed data", ErrSignature)
	}
	// 別アプリ宛ての通知は受けない
	if strconv.FormatInt(data.AppID, 10) != snap.ZaloPay.AppID {
		return Callback{}, fmt.Errorf("%w: app_id mismatch", ErrSignature)
	}
	return Callback{
		ExternalID: data.AppTransID,
		Amount:     data.Amount,
		Paid:       true,
		Event:      "callback",
		Raw:        json.RawMessage(cb.Data),
	}, nil
}
