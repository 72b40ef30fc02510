package repository

import (
	"context"
	"errors"

	"ordercore/internal/domain/model"
	repo "ordercore/internal/repository"

	"gorm.io/gorm"
)

type ProductGormRepository struct {
	db *gorm.DB
}

// DI
func NewProductGormRepository(db *gorm.DB) *ProductGormRepository {
	return &ProductGormRepository{db: db}
}

// 論理削除済みも含めて取得する（販売可否はusecaseで判定）
func (r *ProductGormRepository) FindByID(ctx context.Context, id int64) (model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Product{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Product{}, err
	}
	return p, nil
}

// カテゴリ削除でぶら下がった参照をNULLにする（何度呼んでも同じ結果）
func (r *ProductGormRepository) ClearCategory(ctx context.Context, categoryID int64) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Model(&model.Product{}).
		Where("category_id = ?", categoryID).
		Update("category_id", nil)
	return res.RowsAffected, res.Error
}

func (r *ProductGormRepository) ClearBrand(ctx context.Context, brandID int64) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Model(&model.Product{}).
		Where("brand_id = ?", brandID).
		Update("brand_id", nil)
	return res.RowsAffected, res.Error
}
