package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	ps := PaymentStatus(s)
	switch ps {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return ps, true
	}
	return "", false
}

// 配送先のスナップショット（注文時点の住所を固定）
type ShippingAddress struct {
	FullName   string `gorm:"type:varchar(255);not null" json:"full_name"`
	Phone      string `gorm:"type:varchar(30);not null" json:"phone"`
	Line       string `gorm:"type:varchar(255);not null" json:"line"`
	Ward       string `gorm:"type:varchar(255)" json:"ward"`
	District   string `gorm:"type:varchar(255)" json:"district"`
	Province   string `gorm:"type:varchar(255)" json:"province"`
	WardCode   string `gorm:"type:varchar(20)" json:"ward_code"`
	DistrictID int64  `json:"district_id"`
}

type Order struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber string `gorm:"type:varchar(32);not null;uniqueIndex" json:"order_number"`
	UserID      int64  `gorm:"not null;index;uniqueIndex:idx_orders_user_idempotency,priority:1,where:idempotency_key <> ''" json:"user_id"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`

	Subtotal    int64 `gorm:"not null" json:"subtotal"`
	ShippingFee int64 `gorm:"not null;default:0" json:"shipping_fee"`
	Discount    int64 `gorm:"not null;default:0" json:"discount"`
	Total       int64 `gorm:"not null" json:"total"`

	ShippingAddress ShippingAddress `gorm:"embedded;embeddedPrefix:ship_" json:"shipping_address"`

	PaymentMethod PaymentMethodCode `gorm:"type:varchar(20);not null;index" json:"payment_method"`
	PaymentStatus PaymentStatus     `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	Status        OrderStatus       `gorm:"type:varchar(20);not null;index" json:"status"`

	//SePay用の振込参照文字列
	PaymentReference string `gorm:"type:varchar(64);index" json:"payment_reference,omitempty"`
	ExternalTxnRef   string `gorm:"type:varchar(128)" json:"external_txn_ref,omitempty"`
	ShipmentCode     string `gorm:"type:varchar(64);index" json:"shipment_code,omitempty"`

	Note         string `gorm:"type:text" json:"note,omitempty"`
	CancelReason string `gorm:"type:text" json:"cancel_reason,omitempty"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	//楽観ロック
	Version int64 `gorm:"not null;default:0" json:"version"`

	// 空でないキーは利用者ごとに一意
	IdempotencyKey string `gorm:"type:varchar(255);uniqueIndex:idx_orders_user_idempotency,priority:2,where:idempotency_key <> ''" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// ComputeTotals は明細から小計と合計を計算する。
// total = subtotal + shipping - discount（0未満にはしない）
func (o *Order) ComputeTotals() {
	var subtotal int64
	for _, it := range o.Items {
		subtotal += it.Subtotal
	}
	o.Subtotal = subtotal

	if o.Discount < 0 {
		o.Discount = 0
	}
	if ceiling := o.Subtotal + o.ShippingFee; o.Discount > ceiling {
		o.Discount = ceiling
	}
	o.Total = o.Subtotal + o.ShippingFee - o.Discount
}

func (o *Order) IsWalletPaid() bool {
	return o.PaymentMethod == PaymentMethodWallet && o.PaymentStatus == PaymentStatusPaid
}

// 注文番号: ORD + yymmddHHMMSS + 4桁乱数。
// 一意性はDBのunique制約で担保する。
func NewOrderNumber(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 10000)
	}
	return fmt.Sprintf("ORD%s%04d", now.Format("060102150405"), n.Int64())
}
