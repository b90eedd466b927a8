package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ItemID 商品識別碼，整數與字串形式視為同一個 id
type ItemID string

func (id ItemID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty after trimming.
func (id ItemID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item id must be a string or a number: %w", err)
	}
	*id = ItemID(n.String())
	return nil
}

// CartLineItem 代表購物車中的單個商品項目
// Name / Price / Image 為加入購物車當下的快照
type CartLineItem struct {
	ID       ItemID          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image"`
	Quantity int             `json:"quantity"`
}

// Subtotal returns price * quantity.
func (i CartLineItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartState 代表購物車狀態，Items 依首次加入順序排列
type CartState struct {
	Items []CartLineItem `json:"items"`
}

func NewCartState() CartState {
	return CartState{Items: []CartLineItem{}}
}

// TotalItems is the sum of all quantities.
func (s CartState) TotalItems() int {
	total := 0
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}

// TotalAmount is the sum of price * quantity over all items.
func (s CartState) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (s CartState) IsEmpty() bool {
	return len(s.Items) == 0
}

// IndexOf returns the position of id in Items, or -1.
func (s CartState) IndexOf(id ItemID) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers never share the backing array.
func (s CartState) Clone() CartState {
	items := make([]CartLineItem, len(s.Items))
	copy(items, s.Items)
	return CartState{Items: items}
}

// CartView 是提供給前端的購物車視圖，含衍生總計
type CartView struct {
	Items       []CartLineItem  `json:"items"`
	TotalItems  int             `json:"total_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func (s CartState) View() CartView {
	c := s.Clone()
	return CartView{
		Items:       c.Items,
		TotalItems:  c.TotalItems(),
		TotalAmount: c.TotalAmount(),
	}
}
