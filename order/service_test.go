package order

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

func newTestService() (Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, driver.NoTx{}, zap.NewNop()), repo
}

func newOrder(customerID string) *models.Order {
	return &models.Order{
		DeviceID:   "device-1",
		CustomerID: customerID,
		Email:      "buyer@example.com",
		Status:     enum.OrderStatusPaid,
		Currency:   "ngn",
		Total:      decimal.RequireFromString("79.99"),
		Items: []models.CartLineItem{
			{ID: "1", Name: "Classic Denim Jacket", Price: decimal.RequireFromString("79.99"), Quantity: 1},
		},
	}
}

func TestService_CreateOrderStartsPending(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	o := newOrder("uid-1")
	require.NoError(t, svc.CreateOrder(ctx, o))
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, enum.OrderStatusPending, o.Status)

	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusPending, got.Status)
	assert.Equal(t, "uid-1", got.CustomerID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestService_StatusTransitions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	o := newOrder("uid-1")
	require.NoError(t, svc.CreateOrder(ctx, o))

	updated, err := svc.UpdateOrderStatus(ctx, o.ID, enum.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusPaid, updated.Status)

	// 相同狀態不視為錯誤
	updated, err = svc.UpdateOrderStatus(ctx, o.ID, enum.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusPaid, updated.Status)

	_, err = svc.UpdateOrderStatus(ctx, o.ID, enum.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	updated, err = svc.UpdateOrderStatus(ctx, o.ID, enum.OrderStatusPartiallyRefunded)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusPartiallyRefunded, updated.Status)

	updated, err = svc.UpdateOrderStatus(ctx, o.ID, enum.OrderStatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusRefunded, updated.Status)

	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusRefunded, got.Status)
}

func TestService_FailedOrderCanStillBePaid(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	o := newOrder("uid-1")
	require.NoError(t, svc.CreateOrder(ctx, o))

	_, err := svc.UpdateOrderStatus(ctx, o.ID, enum.OrderStatusFailed)
	require.NoError(t, err)
	_, err = svc.UpdateOrderStatus(ctx, o.ID, enum.OrderStatusPaid)
	require.NoError(t, err)
}

func TestService_UnknownOrder(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.UpdateOrderStatus(ctx, "missing", enum.OrderStatusPaid)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.AttachPaymentIntent(ctx, "missing", "pi_1"), ErrNotFound)
}

func TestService_LookupByPaymentIntent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	o := newOrder("uid-1")
	require.NoError(t, svc.CreateOrder(ctx, o))

	_, err := svc.GetOrderByPaymentIntentID(ctx, "pi_1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.AttachPaymentIntent(ctx, o.ID, "pi_1"))
	got, err := svc.GetOrderByPaymentIntentID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.GetOrderByPaymentIntentID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListOrders(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		o := newOrder("uid-1")
		o.ID = fmt.Sprintf("order-%02d", i)
		require.NoError(t, svc.CreateOrder(ctx, o))
	}
	require.NoError(t, svc.CreateOrder(ctx, newOrder("uid-2")))

	orders, err := svc.ListOrders(ctx, "uid-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 20)

	orders, err = svc.ListOrders(ctx, "uid-1", 10, 20)
	require.NoError(t, err)
	assert.Len(t, orders, 5)

	orders, err = svc.ListOrders(ctx, "uid-1", 10, 30)
	require.NoError(t, err)
	assert.Empty(t, orders)

	orders, err = svc.ListOrders(ctx, "uid-2", 0, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "uid-2", orders[0].CustomerID)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	o := newOrder("uid-1")
	require.NoError(t, svc.CreateOrder(ctx, o))

	got, err := repo.GetOrder(ctx, nil, o.ID)
	require.NoError(t, err)
	got.Items[0].Quantity = 99
	got.Status = enum.OrderStatusCompleted

	again, err := repo.GetOrder(ctx, nil, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
	assert.Equal(t, enum.OrderStatusPending, again.Status)
}
