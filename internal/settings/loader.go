package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"ordercore/internal/domain/model"

	"github.com/shopspring/decimal"
)

// 設定ストアのキー
const (
	KeyZaloPayAppID    = "zalopay_app_id"
	KeyZaloPayKey1     = "zalopay_key1"
	KeyZaloPayKey2     = "zalopay_key2"
	KeyZaloPayEndpoint = "zalopay_endpoint"

	KeyPayPalClientID     = "paypal_client_id"
	KeyPayPalClientSecret = "paypal_client_secret"
	KeyPayPalBaseURL      = "paypal_base_url"
	KeyPayPalWebhookID    = "paypal_webhook_id"
	KeyPayPalVNDRate      = "paypal_vnd_rate"

	KeySePayAPIKey      = "sepay_api_key"
	KeySePayPrefix      = "sepay_prefix"
	KeySePayBankAccount = "sepay_bank_account"
	KeySePayBankCode    = "sepay_bank_code"

	KeyGHNToken   = "ghn_token"
	KeyGHNShopID  = "ghn_shop_id"
	KeyGHNBaseURL = "ghn_base_url"
)

var (
	ErrNotLoaded  = errors.New("settings not loaded")
	ErrUnknownKey = errors.New("unknown setting key")
)

var knownKeys = map[string]struct{}{
	KeyZaloPayAppID: {}, KeyZaloPayKey1: {}, KeyZaloPayKey2: {}, KeyZaloPayEndpoint: {},
	KeyPayPalClientID: {}, KeyPayPalClientSecret: {}, KeyPayPalBaseURL: {}, KeyPayPalWebhookID: {}, KeyPayPalVNDRate: {},
	KeySePayAPIKey: {}, KeySePayPrefix: {}, KeySePayBankAccount: {}, KeySePayBankCode: {},
	KeyGHNToken: {}, KeyGHNShopID: {}, KeyGHNBaseURL: {},
}

// ValidateValue は保存前に1件分の値を検査する。
// 数値キーはRefreshと同じ規則で読めるかどうかを見る。
func ValidateValue(key, value string) error {
	if _, ok := knownKeys[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	switch key {
	case KeyPayPalVNDRate, KeyGHNShopID:
		v := strings.TrimSpace(value)
		if v == "" {
			return nil
		}
		_, err := parse(map[string]string{key: v})
		return err
	}
	return nil
}

type ZaloPay struct {
	AppID    string
	Key1     string
	Key2     string
	Endpoint string
}

func (z ZaloPay) Configured() bool {
	return z.AppID != "" && z.Key1 != "" && z.Key2 != ""
}

type PayPal struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	// 1 USD あたりのVND
	VNDRate decimal.Decimal
}

func (p PayPal) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != "" && p.VNDRate.IsPositive()
}

type SePay struct {
	APIKey      string
	Prefix      string
	BankAccount string
	BankCode    string
}

func (s SePay) Configured() bool {
	return s.APIKey != "" && s.BankAccount != ""
}

type GHN struct {
	Token   string
	ShopID  int64
	BaseURL string
}

func (g GHN) Configured() bool {
	return g.Token != "" && g.ShopID > 0
}

// Snapshot は読み込み時点の設定。読み込み後は変更しない。
type Snapshot struct {
	ZaloPay  ZaloPay
	PayPal   PayPal
	SePay    SePay
	GHN      GHN
	LoadedAt time.Time
}

type Source interface {
	List(ctx context.Context) ([]model.Setting, error)
}

// Loader は設定ストアを読み、型付きのSnapshotとして保持する。
// 更新はRefreshを明示的に呼んだときだけ。
type Loader struct {
	src     Source
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

func NewLoader(src Source) *Loader {
	return &Loader{src: src, now: time.Now}
}

func (l *Loader) Refresh(ctx context.Context) (Snapshot, error) {
	rows, err := l.src.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	kv := make(map[string]string, len(rows))
	for _, r := range rows {
		kv[r.Key] = strings.TrimSpace(r.Value)
	}

	snap, err := parse(kv)
	if err != nil {
		return Snapshot{}, err
	}
	snap.LoadedAt = l.now()
	l.current.Store(&snap)
	return snap, nil
}

func (l *Loader) Current() (Snapshot, error) {
	p := l.current.Load()
	if p == nil {
		return Snapshot{}, ErrNotLoaded
	}
	return *p, nil
}

func parse(kv map[string]string) (Snapshot, error) {
	s := Snapshot{
		ZaloPay: ZaloPay{
			AppID:    kv[KeyZaloPayAppID],
			Key1:     kv[KeyZaloPayKey1],
			Key2:     kv[KeyZaloPayKey2],
			Endpoint: withDefault(kv[KeyZaloPayEndpoint], "https://sb-openapi.zalopay.vn/v2"),
		},
		PayPal: PayPal{
			ClientID:     kv[KeyPayPalClientID],
			ClientSecret: kv[KeyPayPalClientSecret],
			BaseURL:      withDefault(kv[KeyPayPalBaseURL], "https://api-m.sandbox.paypal.com"),
			WebhookID:    kv[KeyPayPalWebhookID],
		},
		SePay: SePay{
			APIKey:      kv[KeySePayAPIKey],
			Prefix:      withDefault(kv[KeySePayPrefix], "DH"),
			BankAccount: kv[KeySePayBankAccount],
			BankCode:    kv[KeySePayBankCode],
		},
		GHN: GHN{
			Token:   kv[KeyGHNToken],
			BaseURL: withDefault(kv[KeyGHNBaseURL], "https://dev-online-gateway.ghn.vn/shiip/public-api"),
		},
	}

	if v := kv[KeyPayPalVNDRate]; v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil || !rate.IsPositive() {
			return Snapshot{}, fmt.Errorf("%s must be a positive number: %q", KeyPayPalVNDRate, v)
		}
		s.PayPal.VNDRate = rate
	}
	if v := kv[KeyGHNShopID]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%s must be a number: %q", KeyGHNShopID, v)
		}
		s.GHN.ShopID = id
	}
	return s, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}
