package models

import (
	"time"

	"github.com/shopspring/decimal"

	"goflare.io/storefront/models/enum"
)

// Order 代表結帳時建立的訂單
type Order struct {
	ID              string           `json:"id"`
	DeviceID        string           `json:"device_id"`
	CustomerID      string           `json:"customer_id"`
	Email           string           `json:"email"`
	Status          enum.OrderStatus `json:"status"`
	Currency        string           `json:"currency"`
	Total           decimal.Decimal  `json:"total"`
	AmountMinor     int64            `json:"amount_minor"`
	PaymentIntentID string           `json:"payment_intent_id"`
	Shipping        ShippingDetails  `json:"shipping"`
	Items           []CartLineItem   `json:"items"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// AllowChangeStatus reports whether the order may move to status.
func (o *Order) AllowChangeStatus(status enum.OrderStatus) bool {
	switch o.Status {
	case enum.OrderStatusPending:
		return status == enum.OrderStatusPaid ||
			status == enum.OrderStatusFailed ||
			status == enum.OrderStatusCancelled
	case enum.OrderStatusFailed:
		// 付款失敗後仍可重試
		return status == enum.OrderStatusPaid || status == enum.OrderStatusCancelled
	case enum.OrderStatusPaid:
		return status == enum.OrderStatusRefunded ||
			status == enum.OrderStatusPartiallyRefunded ||
			status == enum.OrderStatusCompleted
	case enum.OrderStatusPartiallyRefunded:
		return status == enum.OrderStatusRefunded
	default:
		return false
	}
}

// ShippingDetails 結帳表單
type ShippingDetails struct {
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Phone   string `json:"phone"`
}
