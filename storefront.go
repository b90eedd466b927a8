package storefront

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/cart"
	"goflare.io/storefront/catalog"
	"goflare.io/storefront/checkout"
	"goflare.io/storefront/event"
	"goflare.io/storefront/models"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
)

var ErrItemNotInCart = errors.New("item is not in the cart")

type Service interface {
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error)
	GetProduct(ctx context.Context, id models.ItemID) (*models.Product, error)
	GetCategoryTree(ctx context.Context) ([]*models.CategoryTree, error)

	ViewCart(ctx context.Context, deviceID string) (models.CartView, error)
	AddToCart(ctx context.Context, deviceID string, productID models.ItemID, quantity int) (models.CartView, error)
	RemoveFromCart(ctx context.Context, deviceID string, productID models.ItemID) (models.CartView, error)
	IncrementCartItem(ctx context.Context, deviceID string, productID models.ItemID) (models.CartView, error)
	DecrementCartItem(ctx context.Context, deviceID string, productID models.ItemID) (models.CartView, error)
	ClearCart(ctx context.Context, deviceID string) (models.CartView, error)
	CheckoutURL(ctx context.Context, deviceID string, signedIn bool) (string, error)

	BeginCheckout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, customerID string, limit, offset uint64) ([]*models.Order, error)

	ProcessEvent(ctx context.Context, event *stripe.Event) error
	Close() error
}

type service struct {
	hub       *cart.Hub
	catalog   catalog.Service
	stock     checkout.StockAdjuster
	orders    order.Service
	events    event.Repository
	callbacks *payment.Callbacks
	checkout  *checkout.Initiator

	eventManager *EventManager
	workerPool   *WorkerPool
	subscription *nats.Subscription

	logger *zap.Logger
}

// Dependencies groups what NewService wires together. Bus may be nil, in which
// case gateway events only arrive through a Loopback publisher.
type Dependencies struct {
	Hub       *cart.Hub
	Catalog   catalog.Service
	Stock     checkout.StockAdjuster
	Orders    order.Service
	Events    event.Repository
	Callbacks *payment.Callbacks
	Checkout  *checkout.Initiator
	Bus       Subscriber
	Pool      *WorkerPool
}

func NewService(ctx context.Context, deps Dependencies, logger *zap.Logger) Service {
	s := &service{
		hub:        deps.Hub,
		catalog:    deps.Catalog,
		stock:      deps.Stock,
		orders:     deps.Orders,
		events:     deps.Events,
		callbacks:  deps.Callbacks,
		checkout:   deps.Checkout,
		workerPool: deps.Pool,
		logger:     logger,
	}
	s.eventManager = NewEventManager(deps.Bus, logger)
	s.workerPool.SetProcessor(s)
	s.registerEventHandlers()

	// 訂閱事件
	if deps.Bus != nil {
		sub, err := s.eventManager.SubscribeToEvents(ctx, s.workerPool)
		if err != nil {
			logger.Error("Failed to subscribe to events", zap.Error(err))
		}
		s.subscription = sub
	}

	return s
}

func (s *service) ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error) {
	return s.catalog.ListProducts(ctx, filter)
}

func (s *service) GetProduct(ctx context.Context, id models.ItemID) (*models.Product, error) {
	return s.catalog.GetProduct(ctx, id)
}

func (s *service) GetCategoryTree(ctx context.Context) ([]*models.CategoryTree, error) {
	return s.catalog.GetCategoryTree(ctx)
}

func (s *service) ViewCart(ctx context.Context, deviceID string) (models.CartView, error) {
	store, err := s.hub.Open(ctx, deviceID)
	if err != nil {
		return models.CartView{}, err
	}
	return store.Snapshot().View(), nil
}

// AddToCart snapshots the catalog product into the device's cart.
func (s *service) AddToCart(ctx context.Context, deviceID string, productID models.ItemID, quantity int) (models.CartView, error) {
	store, err := s.hub.Open(ctx, deviceID)
	if err != nil {
		return models.CartView{}, err
	}

	product, err := s.catalog.Purchasable(ctx, productID)
	if err != nil {
		return models.CartView{}, err
	}

	store.AddItem(product.LineItem(quantity))
	s.logger.Debug("Item added to cart",
		zap.String("device_id", store.Key()),
		zap.String("product_id", product.ID.String()))

	return store.Snapshot().View(), nil
}

func (s *service) RemoveFromCart(ctx context.Context, deviceID string, productID models.ItemID) (models.CartView, error) {
	return s.withStore(ctx, deviceID, func(store *cart.Store) {
		store.RemoveItem(productID)
	})
}

func (s *service) IncrementCartItem(ctx context.Context, deviceID string, productID models.ItemID) (models.CartView, error) {
	return s.withLine(ctx, deviceID, productID, func(store *cart.Store) {
		store.IncrementQuantity(productID)
	})
}

func (s *service) DecrementCartItem(ctx context.Context, deviceID string, productID models.ItemID) (models.CartView, error) {
	return s.withLine(ctx, deviceID, productID, func(store *cart.Store) {
		store.DecrementQuantity(productID)
	})
}

func (s *service) ClearCart(ctx context.Context, deviceID string) (models.CartView, error) {
	return s.withStore(ctx, deviceID, func(store *cart.Store) {
		store.Clear()
	})
}

func (s *service) CheckoutURL(ctx context.Context, deviceID string, signedIn bool) (string, error) {
	store, err := s.hub.Open(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return checkout.ProceedURL(store.TotalAmount(), signedIn), nil
}

func (s *service) withStore(ctx context.Context, deviceID string, fn func(*cart.Store)) (models.CartView, error) {
	store, err := s.hub.Open(ctx, deviceID)
	if err != nil {
		return models.CartView{}, err
	}
	fn(store)
	return store.Snapshot().View(), nil
}

// withLine is withStore for operations on an existing line. The store itself
// treats unknown ids as a no-op; callers over HTTP get ErrItemNotInCart.
func (s *service) withLine(ctx context.Context, deviceID string, productID models.ItemID, fn func(*cart.Store)) (models.CartView, error) {
	store, err := s.hub.Open(ctx, deviceID)
	if err != nil {
		return models.CartView{}, err
	}
	if !store.Contains(productID) {
		return store.Snapshot().View(), ErrItemNotInCart
	}
	fn(store)
	return store.Snapshot().View(), nil
}

func (s *service) BeginCheckout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	return s.checkout.Begin(ctx, req)
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *service) ListOrders(ctx context.Context, customerID string, limit, offset uint64) ([]*models.Order, error) {
	return s.orders.ListOrders(ctx, customerID, limit, offset)
}

// Close stops consuming gateway events. The worker pool is owned by the caller.
func (s *service) Close() error {
	if s.subscription == nil {
		return nil
	}
	if err := s.subscription.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from events: %w", err)
	}
	return nil
}
