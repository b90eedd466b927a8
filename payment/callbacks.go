package payment

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"goflare.io/storefront/models/enum"
)

type pending struct {
	onSuccess Callback
	onCancel  Callback
}

// Callbacks holds the OnSuccess/OnCancel pair of each open transaction until the
// gateway reports its outcome.
type Callbacks struct {
	mu      sync.Mutex
	pending map[string]pending
	logger  *zap.Logger
}

func NewCallbacks(logger *zap.Logger) *Callbacks {
	return &Callbacks{pending: make(map[string]pending), logger: logger}
}

func (c *Callbacks) Register(reference string, onSuccess, onCancel Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[reference] = pending{onSuccess: onSuccess, onCancel: onCancel}
}

// Resolve runs the callback matching outcome and forgets the reference.
// A failed outcome leaves the callbacks in place since the shopper may retry.
// It reports whether a registration existed.
// A panicking callback is logged and still counts as resolved.
func (c *Callbacks) Resolve(ctx context.Context, outcome enum.PaymentOutcome, receipt Receipt) (resolved bool) {
	c.mu.Lock()
	p, ok := c.pending[receipt.Reference]
	if ok && outcome != enum.PaymentOutcomeFailure {
		delete(c.pending, receipt.Reference)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	var cb Callback
	switch outcome {
	case enum.PaymentOutcomeSuccess:
		cb = p.onSuccess
	case enum.PaymentOutcomeCancel:
		cb = p.onCancel
	}
	resolved = true
	if cb == nil {
		return resolved
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Payment callback panicked",
				zap.String("reference", receipt.Reference),
				zap.String("outcome", string(outcome)),
				zap.Any("panic", r))
		}
	}()
	cb(ctx, receipt)
	return resolved
}

func (c *Callbacks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
