package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 代表商品目錄中的單個商品
type Product struct {
	ID          ItemID          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Rating      float64         `json:"rating"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p *Product) InStock() bool {
	return p.Stock > 0
}

// LineItem snapshots the display fields the cart keeps for this product.
func (p *Product) LineItem(quantity int) CartLineItem {
	return CartLineItem{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Image:    p.Image,
		Quantity: quantity,
	}
}

// ProductFilter 篩選條件，空字串或 "All" 表示不篩選
type ProductFilter struct {
	Category    string
	Subcategory string
	Limit       uint64
	Offset      uint64
}

// CategoryTree 分類與其子分類
type CategoryTree struct {
	Name          string   `json:"name"`
	Subcategories []string `json:"subcategories,omitempty"`
	ProductCount  int      `json:"product_count"`
}
