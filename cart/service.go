package cart

import (
	"github.com/shopspring/decimal"

	"goflare.io/storefront/models"
)

// Service is what consumers (nav badge, product pages, cart view, checkout) see of a cart.
type Service interface {
	AddItem(item models.CartLineItem)
	RemoveItem(id models.ItemID)
	IncrementQuantity(id models.ItemID)
	DecrementQuantity(id models.ItemID)
	Clear()

	Items() []models.CartLineItem
	TotalItems() int
	TotalAmount() decimal.Decimal
	Snapshot() models.CartState
	Contains(id models.ItemID) bool
	Subscribe(listener Listener) func()
}
