package model

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "PENDING"
	TransactionStatusPaid     TransactionStatus = "PAID"
	TransactionStatusFailed   TransactionStatus = "FAILED"
	TransactionStatusRefunded TransactionStatus = "REFUNDED"
)

// 外部ゲートウェイでの支払い試行（1試行1行）
type Transaction struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64             `gorm:"not null;index" json:"order_id"`
	UserID      int64             `gorm:"not null;index" json:"user_id"`
	Amount      int64             `gorm:"not null" json:"amount"` // 注文金額（常にVND）
	Currency    string            `gorm:"type:varchar(8);not null" json:"currency"`
	Provider    PaymentMethodCode `gorm:"type:varchar(20);not null;uniqueIndex:idx_provider_external" json:"provider"`
	ExternalID  string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_provider_external" json:"external_id"`
	RedirectURL string            `gorm:"type:text" json:"redirect_url,omitempty"`
	Status      TransactionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	//外貨で請求したときの実額（PayPalのUSDなど）
	ChargeAmount   string `gorm:"type:varchar(32)" json:"charge_amount,omitempty"`
	ChargeCurrency string `gorm:"type:varchar(8)" json:"charge_currency,omitempty"`
	//ゲートウェイ固有のデータ（そのまま保存）
	ProviderPayload datatypes.JSON `gorm:"type:jsonb" json:"provider_payload,omitempty"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
