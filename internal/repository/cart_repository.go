package repository

import (
	"context"

	"ordercore/internal/domain/model"
)

type CartRepository interface {
	FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	ListItems(ctx context.Context, cartID int64) ([]model.CartItem, error)
	// 購入した数量だけ明細を減らす（0以下になった明細は削除）
	RemoveQuantities(ctx context.Context, cartID int64, quantities map[int64]int64) error
}
