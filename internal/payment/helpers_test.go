package payment

import (
	"time"

	"ordercore/internal/pkg/outbound"
	"ordercore/internal/settings"

	"github.com/shopspring/decimal"
)

type fixedSettings struct {
	snap settings.Snapshot
	err  error
}

func (f *fixedSettings) Current() (settings.Snapshot, error) {
	return f.snap, f.err
}

func testSnapshot(baseURL string) settings.Snapshot {
	return settings.Snapshot{
		ZaloPay: settings.ZaloPay{AppID: "2553", Key1: "key1-secret", Key2: "key2-secret", Endpoint: baseURL},
		PayPal: settings.PayPal{
			ClientID: "cid", ClientSecret: "csecret", BaseURL: baseURL,
			WebhookID: "WH-1", VNDRate: decimal.NewFromInt(25000),
		},
		SePay: settings.SePay{APIKey: "sepay-key", Prefix: "DH", BankAccount: "0123456789", BankCode: "MB"},
	}
}

func testClient() *outbound.Client {
	return outbound.New(2*time.Second, nil)
}
