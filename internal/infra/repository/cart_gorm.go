package repository

import (
	"context"

	"ordercore/internal/domain/model"
	repo "ordercore/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// ユーザーのACTIVEカートを取得
func (r *CartGormRepository) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.CartStatusActive).
		Order("id desc").
		First(&cart).Error

	if isNotFound(err) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

func (r *CartGormRepository) ListItems(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	var items []model.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return []model.CartItem{}, err
	}
	return items, nil
}

// 注文した数量だけ明細を減らし、0以下になった明細は削除する。
// 明細が既に無い商品は無視する（再配信でも壊れない）
func (r *CartGormRepository) RemoveQuantities(ctx context.Context, cartID int64, quantities map[int64]int64) error {
	if len(quantities) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		productIDs := make([]int64, 0, len(quantities))
		for id := range quantities {
			productIDs = append(productIDs, id)
		}

		var items []model.CartItem
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("cart_id = ? AND product_id IN ?", cartID, productIDs).
			Find(&items).Error; err != nil {
			return err
		}

		for _, it := range items {
			left := it.Quantity - quantities[it.ProductID]
			if left <= 0 {
				if err := tx.Delete(&model.CartItem{}, it.ID).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Model(&model.CartItem{}).
				Where("id = ?", it.ID).
				Update("quantity", left).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
