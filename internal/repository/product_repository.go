package repository

import (
	"context"

	"ordercore/internal/domain/model"
)

// 商品の参照（カタログ本体は外部）
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)

	// カテゴリ/ブランド削除時に参照を外す
	ClearCategory(ctx context.Context, categoryID int64) (int64, error)
	ClearBrand(ctx context.Context, brandID int64) (int64, error)
}
