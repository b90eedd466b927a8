package storefront

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/storefront/cart"
	"goflare.io/storefront/catalog"
	"goflare.io/storefront/checkout"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/event"
	"goflare.io/storefront/mail"
	"goflare.io/storefront/models"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
)

type stubGateway struct {
	mu        sync.Mutex
	n         int
	callbacks *payment.Callbacks
}

// NewTransaction registers the callbacks the same way the Stripe gateway does.
func (g *stubGateway) NewTransaction(_ context.Context, tx payment.Transaction) (*payment.Handle, error) {
	g.mu.Lock()
	g.n++
	ref := fmt.Sprintf("pi_%d", g.n)
	g.mu.Unlock()

	g.callbacks.Register(ref, tx.OnSuccess, tx.OnCancel)
	return &payment.Handle{Reference: ref, AmountMinorUnits: tx.AmountMinorUnits, Currency: tx.Currency}, nil
}

type testEnv struct {
	svc       Service
	hub       *cart.Hub
	products  *catalog.MemoryRepository
	orders    order.Service
	events    *event.MemoryRepository
	callbacks *payment.Callbacks
	pool      *WorkerPool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	products := catalog.NewMemoryRepository()
	require.NoError(t, catalog.Seed(ctx, products))

	pool := NewWorkerPool(4, nil, logger)
	t.Cleanup(pool.Shutdown)

	hub := cart.NewHub(cart.NewMemoryPersister(), logger)
	orders := order.NewService(order.NewMemoryRepository(), driver.NoTx{}, logger)
	callbacks := payment.NewCallbacks(logger)
	mailer := mail.NewService(mail.NewLogSender(logger), "Storefront", "shop@example.com", logger)
	initiator := checkout.NewInitiator(hub, orders, &stubGateway{callbacks: callbacks}, products, mailer,
		checkout.Config{PublishableKey: "pk_test"}, logger)

	env := &testEnv{
		hub:       hub,
		products:  products,
		orders:    orders,
		events:    event.NewMemoryRepository(),
		callbacks: callbacks,
		pool:      pool,
	}
	env.svc = NewService(ctx, Dependencies{
		Hub:       hub,
		Catalog:   catalog.NewService(products, logger),
		Stock:     products,
		Orders:    orders,
		Events:    env.events,
		Callbacks: callbacks,
		Checkout:  initiator,
		Pool:      pool,
	}, logger)
	return env
}

var buyer = &models.User{UID: "uid-1", Email: "buyer@example.com"}

func shipping() models.ShippingDetails {
	return models.ShippingDetails{
		Email:   "buyer@example.com",
		Address: "1 Marina Road",
		City:    "Lagos Island",
		State:   "Lagos",
		Phone:   "+2348000000000",
	}
}

func TestService_CartOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.svc.ViewCart(ctx, "device-1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	view, err = env.svc.AddToCart(ctx, "device-1", "1", 2)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Classic Denim Jacket", view.Items[0].Name)
	assert.Equal(t, 2, view.TotalItems)
	assert.Equal(t, "159.98", view.TotalAmount.StringFixed(2))

	view, err = env.svc.AddToCart(ctx, "device-1", "2", 1)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)

	view, err = env.svc.IncrementCartItem(ctx, "device-1", "2")
	require.NoError(t, err)
	assert.Equal(t, 4, view.TotalItems)

	view, err = env.svc.DecrementCartItem(ctx, "device-1", "1")
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalItems)

	view, err = env.svc.RemoveFromCart(ctx, "device-1", "2")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, models.ItemID("1"), view.Items[0].ID)

	view, err = env.svc.ClearCart(ctx, "device-1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.True(t, view.TotalAmount.IsZero())
}

func TestService_CartErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.AddToCart(ctx, "device-1", "999", 1)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = env.svc.AddToCart(ctx, "", "1", 1)
	assert.ErrorIs(t, err, cart.ErrDeviceRequired)

	_, err = env.svc.IncrementCartItem(ctx, "device-1", "1")
	assert.ErrorIs(t, err, ErrItemNotInCart)
	_, err = env.svc.DecrementCartItem(ctx, "device-1", "1")
	assert.ErrorIs(t, err, ErrItemNotInCart)

	// 移除不存在的商品不是錯誤
	_, err = env.svc.RemoveFromCart(ctx, "device-1", "1")
	assert.NoError(t, err)
}

func TestService_CartsAreIsolatedPerDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.AddToCart(ctx, "device-1", "1", 1)
	require.NoError(t, err)

	view, err := env.svc.ViewCart(ctx, "device-2")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestService_CheckoutURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.AddToCart(ctx, "device-1", "1", 1)
	require.NoError(t, err)

	url, err := env.svc.CheckoutURL(ctx, "device-1", true)
	require.NoError(t, err)
	assert.Equal(t, "/checkout?amount=79.99", url)

	url, err = env.svc.CheckoutURL(ctx, "device-1", false)
	require.NoError(t, err)
	assert.Equal(t, "/signin?redirect=/checkout&amount=79.99", url)
}

func TestService_Catalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	products, err := env.svc.ListProducts(ctx, models.ProductFilter{Category: "Men"})
	require.NoError(t, err)
	assert.Len(t, products, 6)

	p, err := env.svc.GetProduct(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Classic Denim Jacket", p.Name)

	tree, err := env.svc.GetCategoryTree(ctx)
	require.NoError(t, err)
	assert.Len(t, tree, 3)
}

func TestService_CloseWithoutBus(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.svc.Close())
}
