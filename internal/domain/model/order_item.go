package model

import "time"

// 注文時点の商品情報を固定する
type OrderItem struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             int64     `gorm:"not null;index" json:"order_id"`
	ProductID           int64     `gorm:"not null;index" json:"product_id"`
	ProductNameSnapshot string    `gorm:"type:varchar(255);not null" json:"name"`
	PriceSnapshot       int64     `gorm:"not null" json:"price"`
	SalePriceSnapshot   int64     `gorm:"not null;default:0" json:"sale_price"`
	Quantity            int64     `gorm:"not null" json:"quantity"`
	Subtotal            int64     `gorm:"not null" json:"subtotal"`
	CreatedAt           time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

// セール価格が有効ならそちらを使う
func EffectivePrice(price, salePrice int64) int64 {
	if salePrice > 0 && salePrice < price {
		return salePrice
	}
	return price
}

func NewOrderItem(p Product, qty int64) OrderItem {
	return OrderItem{
		ProductID:           p.ID,
		ProductNameSnapshot: p.Name,
		PriceSnapshot:       p.Price,
		SalePriceSnapshot:   p.SalePrice,
		Quantity:            qty,
		Subtotal:            EffectivePrice(p.Price, p.SalePrice) * qty,
	}
}
