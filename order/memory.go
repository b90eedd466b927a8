package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository 用於本機開發與測試，tx 參數會被忽略
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*models.Order)}
}

func (m *MemoryRepository) CreateOrder(_ context.Context, _ pgx.Tx, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *MemoryRepository) GetOrder(_ context.Context, _ pgx.Tx, orderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryRepository) GetOrderByPaymentIntentID(_ context.Context, _ pgx.Tx, paymentIntentID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if o.PaymentIntentID != "" && o.PaymentIntentID == paymentIntentID {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) SetPaymentIntent(_ context.Context, _ pgx.Tx, orderID, paymentIntentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.PaymentIntentID = paymentIntentID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) UpdateOrderStatus(_ context.Context, _ pgx.Tx, orderID string, status enum.OrderStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryRepository) ListOrders(_ context.Context, _ pgx.Tx, customerID string, limit, offset uint64) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Order, 0)
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= uint64(len(out)) {
		return []*models.Order{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < uint64(len(out)) {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.CartLineItem(nil), o.Items...)
	return &cp
}
