package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/storefront/metrics"
)

var ErrDeviceRequired = errors.New("cart: device id is required")

// Hub owns one Store per device. It is constructed once at startup and handed to
// every consumer; a device's store is hydrated on first Open and stays in
// memory until Evict drops it for being idle.
type Hub struct {
	persister Persister
	opts      []Option
	logger    *zap.Logger
	now       func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	stores    map[string]*hubEntry
	listeners []Listener
}

type hubEntry struct {
	store    *Store
	lastUsed atomic.Int64 // unix nano
}

func NewHub(persister Persister, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		persister: persister,
		opts:      append([]Option{WithLogger(logger)}, opts...),
		logger:    logger,
		now:       time.Now,
		stores:    make(map[string]*hubEntry),
	}
}

// Open returns the device's store, loading its snapshot when it is not in memory.
func (h *Hub) Open(ctx context.Context, deviceID string) (*Store, error) {
	key := strings.TrimSpace(deviceID)
	if key == "" {
		return nil, ErrDeviceRequired
	}
	if s, ok := h.Get(key); ok {
		return s, nil
	}

	v, err, _ := h.group.Do(key, func() (any, error) {
		if s, ok := h.Get(key); ok {
			return s, nil
		}

		s := Open(ctx, key, h.persister, h.opts...)
		e := &hubEntry{store: s}
		e.lastUsed.Store(h.now().UnixNano())

		h.mu.Lock()
		for _, l := range h.listeners {
			s.Subscribe(l)
		}
		h.stores[key] = e
		n := len(h.stores)
		h.mu.Unlock()

		metrics.SetOpenCarts(n)
		h.logger.Debug("Cart opened", zap.String("device_id", key), zap.Int("items", len(s.Items())))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// Get returns an already opened store without touching the persister.
func (h *Hub) Get(deviceID string) (*Store, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.stores[deviceID]
	if !ok {
		return nil, false
	}
	e.lastUsed.Store(h.now().UnixNano())
	return e.store, true
}

// Subscribe attaches listener to every open store and every store opened later.
func (h *Hub) Subscribe(listener Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, listener)
	for _, e := range h.stores {
		e.store.Subscribe(listener)
	}
}

// Evict drops stores nobody opened within idle and returns how many went.
// Their last save is already queued with the snapshot it needs, so the next
// Open reloads the cart through the persister.
func (h *Hub) Evict(idle time.Duration) int {
	cutoff := h.now().Add(-idle).UnixNano()

	h.mu.Lock()
	evicted := 0
	for key, e := range h.stores {
		if e.lastUsed.Load() <= cutoff {
			delete(h.stores, key)
			evicted++
		}
	}
	n := len(h.stores)
	h.mu.Unlock()

	if evicted > 0 {
		metrics.SetOpenCarts(n)
		h.logger.Debug("Idle carts evicted", zap.Int("evicted", evicted), zap.Int("open", n))
	}
	return evicted
}

// RunEviction calls Evict every interval until ctx is done. A non-positive idle
// disables eviction.
func (h *Hub) RunEviction(ctx context.Context, interval, idle time.Duration) {
	if idle <= 0 {
		return
	}
	if interval <= 0 {
		interval = idle
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Evict(idle)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.stores)
}
