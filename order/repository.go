package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/storefront/cache"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrInvalidTransition = errors.New("order: invalid status transition")
)

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error
	GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (*models.Order, error)
	GetOrderByPaymentIntentID(ctx context.Context, tx pgx.Tx, paymentIntentID string) (*models.Order, error)
	SetPaymentIntent(ctx context.Context, tx pgx.Tx, orderID, paymentIntentID string) error
	UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID string, status enum.OrderStatus, updatedAt time.Time) error
	ListOrders(ctx context.Context, tx pgx.Tx, customerID string, limit, offset uint64) ([]*models.Order, error)
}

type repository struct {
	conn   driver.PostgresPool
	cache  cache.Cache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, c cache.Cache, logger *zap.Logger) Repository {
	if c == nil {
		c = cache.Nop{}
	}
	return &repository{
		conn:   conn,
		cache:  c,
		logger: logger,
	}
}

const orderColumns = `id, device_id, customer_id, email, status, currency, total, amount_minor,
	COALESCE(payment_intent_id, ''), shipping, items, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o        models.Order
		shipping []byte
		items    []byte
	)
	if err := row.Scan(&o.ID, &o.DeviceID, &o.CustomerID, &o.Email, &o.Status, &o.Currency, &o.Total,
		&o.AmountMinor, &o.PaymentIntentID, &shipping, &items, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("failed to decode shipping: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	return &o, nil
}

func (r *repository) CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error {
	shipping, err := json.Marshal(order.Shipping)
	if err != nil {
		return fmt.Errorf("failed to encode shipping: %w", err)
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	var paymentIntentID *string
	if order.PaymentIntentID != "" {
		paymentIntentID = &order.PaymentIntentID
	}

	err = driver.Conn(r.conn, tx).QueryRow(ctx, `
		INSERT INTO orders (id, device_id, customer_id, email, status, currency, total, amount_minor,
			payment_intent_id, shipping, items)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		order.ID, order.DeviceID, order.CustomerID, order.Email, order.Status, order.Currency, order.Total,
		order.AmountMinor, paymentIntentID, shipping, items,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create order", zap.Error(err))
		return err
	}

	return nil
}

func (r *repository) GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (*models.Order, error) {
	cacheKey := fmt.Sprintf("order:%s", orderID)
	var order models.Order

	// 交易中不讀快取，避免讀到舊狀態
	if tx == nil {
		found, err := r.cache.Get(ctx, cacheKey, &order)
		if err != nil {
			r.logger.Warn("Failed to get order from cache", zap.Error(err))
		}
		if found {
			return &order, nil
		}
	}

	o, err := scanOrder(driver.Conn(r.conn, tx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get order", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	if err = r.cache.Set(ctx, cacheKey, o, cache.DefaultTTL); err != nil {
		r.logger.Warn("Failed to cache order", zap.Error(err))
	}

	return o, nil
}

func (r *repository) GetOrderByPaymentIntentID(ctx context.Context, tx pgx.Tx, paymentIntentID string) (*models.Order, error) {
	o, err := scanOrder(driver.Conn(r.conn, tx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, paymentIntentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get order by payment intent", zap.String("payment_intent_id", paymentIntentID), zap.Error(err))
		return nil, err
	}
	return o, nil
}

func (r *repository) SetPaymentIntent(ctx context.Context, tx pgx.Tx, orderID, paymentIntentID string) error {
	tag, err := driver.Conn(r.conn, tx).Exec(ctx,
		`UPDATE orders SET payment_intent_id = $2, updated_at = now() WHERE id = $1`,
		orderID, paymentIntentID,
	)
	if err != nil {
		r.logger.Error("Failed to set payment intent", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.invalidate(ctx, orderID)
	return nil
}

func (r *repository) UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID string, status enum.OrderStatus, updatedAt time.Time) error {
	tag, err := driver.Conn(r.conn, tx).Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, status, updatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update order status", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.invalidate(ctx, orderID)
	return nil
}

func (r *repository) ListOrders(ctx context.Context, tx pgx.Tx, customerID string, limit, offset uint64) ([]*models.Order, error) {
	rows, err := driver.Conn(r.conn, tx).Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		customerID, int64(limit), int64(offset),
	)
	if err != nil {
		r.logger.Error("Failed to list orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *repository) invalidate(ctx context.Context, orderID string) {
	if err := r.cache.Delete(ctx, fmt.Sprintf("order:%s", orderID)); err != nil {
		r.logger.Warn("Failed to invalidate order cache", zap.String("order_id", orderID), zap.Error(err))
	}
}
