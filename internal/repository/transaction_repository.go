package repository

import (
	"context"

	"ordercore/internal/domain/model"
)

// ゲートウェイ支払い試行の保存だけを約束（業務ロジックは持たない）
type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) error
	FindByID(ctx context.Context, id int64) (model.Transaction, error)
	FindByOrderID(ctx context.Context, orderID int64) ([]model.Transaction, error)
	FindByUserID(ctx context.Context, userID int64, limit int, offset int) ([]model.Transaction, int64, error)
	FindByExternalID(ctx context.Context, provider model.PaymentMethodCode, externalID string) (model.Transaction, error)
	// 部分更新（列名→値）
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
}
