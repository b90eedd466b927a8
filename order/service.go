package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

type Service interface {
	// CreateOrder assigns an id and stores the order as pending.
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	AttachPaymentIntent(ctx context.Context, orderID, paymentIntentID string) error
	// UpdateOrderStatus applies the transition if allowed. Setting the current status is a no-op.
	UpdateOrderStatus(ctx context.Context, orderID string, status enum.OrderStatus) (*models.Order, error)
	ListOrders(ctx context.Context, customerID string, limit, offset uint64) ([]*models.Order, error)
}

type service struct {
	repo   Repository
	tm     driver.Transactor
	logger *zap.Logger
}

func NewService(repo Repository, tm driver.Transactor, logger *zap.Logger) Service {
	return &service{repo: repo, tm: tm, logger: logger}
}

func (s *service) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Status = enum.OrderStatusPending

	return s.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		s.logger.Info("Order created",
			zap.String("order_id", order.ID),
			zap.String("device_id", order.DeviceID),
			zap.String("total", order.Total.StringFixed(2)))
		return nil
	})
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.repo.GetOrder(ctx, nil, orderID)
}

func (s *service) GetOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	return s.repo.GetOrderByPaymentIntentID(ctx, nil, paymentIntentID)
}

func (s *service) AttachPaymentIntent(ctx context.Context, orderID, paymentIntentID string) error {
	if err := s.repo.SetPaymentIntent(ctx, nil, orderID, paymentIntentID); err != nil {
		return fmt.Errorf("failed to attach payment intent: %w", err)
	}
	return nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, orderID string, status enum.OrderStatus) (*models.Order, error) {
	var updated *models.Order
	err := s.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		o, err := s.repo.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status == status {
			updated = o
			return nil
		}
		if !o.AllowChangeStatus(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
		}

		now := time.Now().UTC()
		if err = s.repo.UpdateOrderStatus(ctx, tx, orderID, status, now); err != nil {
			return err
		}
		o.Status, o.UpdatedAt = status, now
		updated = o
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.logger.Info("Order status updated", zap.String("order_id", orderID), zap.String("status", string(status)))
	return updated, nil
}

func (s *service) ListOrders(ctx context.Context, customerID string, limit, offset uint64) ([]*models.Order, error) {
	if limit == 0 {
		limit = 20
	}
	return s.repo.ListOrders(ctx, nil, customerID, limit, offset)
}
