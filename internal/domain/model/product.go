package model

import (
	"time"

	"gorm.io/gorm"
)

// カタログ側の商品。ここでは在庫・販売数の増減と参照解除だけを扱う。
type Product struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Price       int64          `gorm:"not null" json:"price"`
	SalePrice   int64          `gorm:"not null;default:0" json:"sale_price"`
	Stock       int64          `gorm:"not null" json:"stock"`
	SoldCount   int64          `gorm:"not null;default:0" json:"sold_count"`
	IsActive    bool           `gorm:"not null;default:false" json:"is_active"`
	CategoryID  *int64         `gorm:"index" json:"category_id"`
	BrandID     *int64         `gorm:"index" json:"brand_id"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// 販売可能か（公開中で削除されていない）
func (p Product) Sellable() bool {
	return p.IsActive && !p.DeletedAt.Valid
}
