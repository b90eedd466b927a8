package cart

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/metrics"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

const defaultSaveTimeout = 5 * time.Second

// Listener receives the post-mutation snapshot of the cart owned by key.
// Listeners run synchronously on the mutating goroutine and must not mutate the same store.
type Listener func(key string, state models.CartState)

// Dispatcher runs persistence work off the caller's goroutine. Tasks sharing a key
// must run in submission order. Dispatch reports false when the task was dropped.
type Dispatcher interface {
	Dispatch(key string, task func()) bool
}

type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(_ string, task func()) bool {
	task()
	return true
}

type Option func(*Store)

func WithDecrementPolicy(policy enum.DecrementPolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

// WithDispatcher makes saves fire-and-forget. Without it saves run inline.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Store) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSaveTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.saveTimeout = d
		}
	}
}

var _ Service = (*Store)(nil)

// Store 是單一裝置購物車的唯一真實來源
type Store struct {
	key         string
	persister   Persister
	dispatcher  Dispatcher
	policy      enum.DecrementPolicy
	saveTimeout time.Duration
	logger      *zap.Logger

	mu    sync.RWMutex
	state models.CartState

	// notifyMu keeps persistence and listener delivery in mutation order.
	notifyMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64
}

// NewStore builds a store around an already hydrated state. persister may be nil.
func NewStore(key string, initial models.CartState, persister Persister, opts ...Option) *Store {
	s := &Store{
		key:         key,
		persister:   persister,
		dispatcher:  inlineDispatcher{},
		policy:      enum.DecrementPolicyFloor,
		saveTimeout: defaultSaveTimeout,
		logger:      zap.NewNop(),
		state:       initial.Clone(),
		listeners:   make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open hydrates a store from persister exactly once. Load failures yield an empty cart.
func Open(ctx context.Context, key string, persister Persister, opts ...Option) *Store {
	s := NewStore(key, models.NewCartState(), persister, opts...)
	if persister != nil {
		s.state = LoadSoft(ctx, persister, key, s.logger)
	}
	return s
}

func (s *Store) Key() string {
	return s.key
}

// AddItem appends item, or adds its quantity to the existing line with the same id.
// The first-seen name, price and image are kept. Quantities below 1 count as 1 and
// negative prices as 0; an empty id is ignored.
func (s *Store) AddItem(item models.CartLineItem) {
	item.ID = models.ItemID(strings.TrimSpace(item.ID.String()))
	if item.ID.IsZero() {
		s.logger.Debug("Ignoring cart item without id", zap.String("device_id", s.key))
		return
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if item.Price.IsNegative() {
		item.Price = decimal.Zero
	}

	s.mutate("add", func(items []models.CartLineItem) ([]models.CartLineItem, bool) {
		if i := indexOf(items, item.ID); i >= 0 {
			items[i].Quantity += item.Quantity
			return items, true
		}
		return append(items, item), true
	})
}

// RemoveItem drops the line for id regardless of quantity. Absent ids are a no-op.
func (s *Store) RemoveItem(id models.ItemID) {
	s.mutate("remove", func(items []models.CartLineItem) ([]models.CartLineItem, bool) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false
		}
		return slices.Delete(items, i, i+1), true
	})
}

func (s *Store) IncrementQuantity(id models.ItemID) {
	s.mutate("increment", func(items []models.CartLineItem) ([]models.CartLineItem, bool) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false
		}
		items[i].Quantity++
		return items, true
	})
}

// DecrementQuantity lowers the quantity by one. At quantity 1 the configured policy
// decides: floor leaves the line untouched, remove drops it.
func (s *Store) DecrementQuantity(id models.ItemID) {
	s.mutate("decrement", func(items []models.CartLineItem) ([]models.CartLineItem, bool) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false
		}
		if items[i].Quantity > 1 {
			items[i].Quantity--
			return items, true
		}
		if s.policy == enum.DecrementPolicyRemove {
			return slices.Delete(items, i, i+1), true
		}
		return items, false
	})
}

// Clear empties the cart. It always persists and notifies, even if already empty.
func (s *Store) Clear() {
	s.mutate("clear", func([]models.CartLineItem) ([]models.CartLineItem, bool) {
		return []models.CartLineItem{}, true
	})
}

func (s *Store) Items() []models.CartLineItem {
	return s.Snapshot().Items
}

func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TotalItems()
}

func (s *Store) TotalAmount() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TotalAmount()
}

func (s *Store) Snapshot() models.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Item(id models.ItemID) (models.CartLineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.state.Items, id); i >= 0 {
		return s.state.Items[i], true
	}
	return models.CartLineItem{}, false
}

func (s *Store) Contains(id models.ItemID) bool {
	_, ok := s.Item(id)
	return ok
}

// Subscribe registers listener and returns a function that removes it.
func (s *Store) Subscribe(listener Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) mutate(op string, fn func([]models.CartLineItem) ([]models.CartLineItem, bool)) {
	s.mu.Lock()
	items, changed := fn(s.state.Items)
	if !changed {
		s.mu.Unlock()
		return
	}
	if items == nil {
		items = []models.CartLineItem{}
	}
	s.state.Items = items
	snapshot := s.state.Clone()

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	metrics.RecordCartMutation(op)
	s.persist(snapshot)
	s.notify(snapshot)
}

func (s *Store) persist(snapshot models.CartState) {
	if s.persister == nil {
		return
	}

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		defer cancel()

		if err := s.persister.Save(ctx, s.key, snapshot); err != nil {
			s.logger.Warn("Failed to persist cart", zap.String("device_id", s.key), zap.Error(err))
			metrics.RecordCartPersistenceFailure("save")
		}
	}

	if !s.dispatcher.Dispatch(s.key, task) {
		s.logger.Warn("Cart save dropped", zap.String("device_id", s.key))
		metrics.RecordCartPersistenceFailure("dropped")
	}
}

func (s *Store) notify(snapshot models.CartState) {
	s.listenersMu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, listener := range listeners {
		s.call(listener, snapshot)
	}
}

func (s *Store) call(listener Listener, snapshot models.CartState) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic in cart listener", zap.String("device_id", s.key), zap.Any("panic", p))
		}
	}()
	listener(s.key, snapshot.Clone())
}

func indexOf(items []models.CartLineItem, id models.ItemID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
