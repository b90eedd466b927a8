package models

import (
	"time"

	"github.com/stripe/stripe-go/v79"
)

// Event 已處理的付款閘道事件，用於去重
type Event struct {
	ID        string           `json:"id"`
	Type      stripe.EventType `json:"type"`
	Processed bool             `json:"processed"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
