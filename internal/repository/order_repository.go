package repository

import (
	"context"
	"time"

	"ordercore/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page          int
	Limit         int
	Status        string
	PaymentStatus string
	PaymentMethod string
	//注文番号の部分一致
	Q      string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

// ステータス更新時に一緒に書く項目
type OrderStatusChange struct {
	Status       model.OrderStatus
	CancelReason *string
	ConfirmedAt  *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	//キャンセル時にウォレット払いなら返金済みへ
	PaymentStatus *model.PaymentStatus
}

type OrderStats struct {
	TotalOrders   int64                       `json:"total_orders"`
	ByStatus      map[model.OrderStatus]int64 `json:"by_status"`
	PaidRevenue   int64                       `json:"paid_revenue"`
	PendingAmount int64                       `json:"pending_amount"`
}

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	Search(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)

	// versionが一致するときだけ更新する。ずれていればErrConflict
	UpdateStatus(ctx context.Context, orderID int64, version int64, change OrderStatusChange) error

	// 支払いステータス更新。既に同じ値ならapplied=false
	UpdatePaymentStatus(ctx context.Context, orderID int64, status model.PaymentStatus, externalRef string) (bool, error)

	// ゲートウェイ支払い作成後に参照文字列と外部IDを書く
	SetPaymentReference(ctx context.Context, orderID int64, reference string, externalRef string) error
	// 配送コードが未設定のときだけ書く。設定済みならErrConflict
	SetShipmentCode(ctx context.Context, orderID int64, code string) error

	// 配送同期の対象（配送コードあり、CONFIRMED/PROCESSING/SHIPPING）
	ListForShipmentSync(ctx context.Context, limit int) ([]model.Order, error)

	Stats(ctx context.Context, from *time.Time, to *time.Time) (OrderStats, error)
}
