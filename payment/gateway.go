// Package payment is the boundary to the hosted payment gateway.
package payment

import (
	"context"
	"errors"
)

var (
	ErrGatewayUnavailable = errors.New("payment: failed to initialize payment gateway")
	// ErrRelayUnavailable means a verified webhook could not be handed on and
	// should be redelivered.
	ErrRelayUnavailable = errors.New("payment: webhook relay unavailable")
)

// Receipt is what the gateway reports when a transaction settles.
type Receipt struct {
	Reference        string            `json:"reference"`
	Status           string            `json:"status"`
	AmountMinorUnits int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Callback runs at most once when the transaction settles.
type Callback func(ctx context.Context, receipt Receipt)

type Transaction struct {
	// Key is the publishable key the client uses to complete the payment.
	Key              string
	Email            string
	AmountMinorUnits int64
	Currency         string
	Metadata         map[string]string
	// IdempotencyKey lets a retried checkout reuse the same gateway transaction.
	IdempotencyKey string

	OnSuccess Callback
	OnCancel  Callback
}

// Handle is returned to the client to finish the payment in the hosted widget.
type Handle struct {
	Reference        string `json:"reference"`
	ClientSecret     string `json:"client_secret"`
	PublishableKey   string `json:"publishable_key"`
	AmountMinorUnits int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type Gateway interface {
	NewTransaction(ctx context.Context, tx Transaction) (*Handle, error)
}

var _ Gateway = Unavailable{}

// Unavailable is the gateway used when no payment provider is configured.
type Unavailable struct{}

func (Unavailable) NewTransaction(context.Context, Transaction) (*Handle, error) {
	return nil, ErrGatewayUnavailable
}
