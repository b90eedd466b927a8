package cart

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"goflare.io/storefront/metrics"
	"goflare.io/storefront/models"
)

// Persister loads and saves one cart snapshot per device key.
// Load returns an empty state and a nil error when nothing was stored.
type Persister interface {
	Load(ctx context.Context, key string) (models.CartState, error)
	Save(ctx context.Context, key string, state models.CartState) error
}

// LoadSoft never fails: an absent, unreadable or corrupt snapshot yields an empty cart.
func LoadSoft(ctx context.Context, p Persister, key string, logger *zap.Logger) models.CartState {
	if logger == nil {
		logger = zap.NewNop()
	}

	state, err := p.Load(ctx, key)
	if err != nil {
		logger.Warn("Failed to load cart, starting empty", zap.String("device_id", key), zap.Error(err))
		metrics.RecordCartPersistenceFailure("load")
		return models.NewCartState()
	}
	if state.Items == nil {
		state.Items = []models.CartLineItem{}
	}
	return state
}

var _ Persister = (*MemoryPersister)(nil)

// MemoryPersister keeps encoded snapshots in process memory.
type MemoryPersister struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{data: make(map[string][]byte)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) (models.CartState, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return models.NewCartState(), nil
	}

	state, _, err := DecodeSnapshot(raw)
	return state, err
}

func (m *MemoryPersister) Save(_ context.Context, key string, state models.CartState) error {
	raw, err := EncodeSnapshot(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

// Raw returns the stored bytes for key.
func (m *MemoryPersister) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[key]
	return raw, ok
}

// Put stores raw bytes as-is, bypassing the encoder.
func (m *MemoryPersister) Put(key string, raw []byte) {
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
}

var _ Persister = Chain(nil)

// Chain reads from the first persister holding a non-empty snapshot and writes to all.
type Chain []Persister

func (c Chain) Load(ctx context.Context, key string) (models.CartState, error) {
	var errs []error
	for _, p := range c {
		state, err := p.Load(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !state.IsEmpty() {
			return state, nil
		}
	}
	return models.NewCartState(), errors.Join(errs...)
}

func (c Chain) Save(ctx context.Context, key string, state models.CartState) error {
	var errs []error
	for _, p := range c {
		if err := p.Save(ctx, key, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
