// Package checkout turns a device's cart into an order and a gateway transaction.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/cart"
	"goflare.io/storefront/mail"
	"goflare.io/storefront/metrics"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
)

var (
	ErrEmptyCart    = errors.New("checkout: cart is empty")
	ErrAuthRequired = errors.New("checkout: sign in required")
)

const (
	ProductsPath = "/products"
	CheckoutPath = "/checkout"
	SignInPath   = "/signin"

	MessageSucceeded   = "Payment successful! Order confirmed"
	MessageCancelled   = "Payment cancelled"
	MessageGatewayDown = "Failed to initialize payment gateway"
)

var minorUnitsPerMajor = decimal.NewFromInt(100)

// StockAdjuster is satisfied by catalog.Repository.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, tx pgx.Tx, id models.ItemID, delta int) error
}

type Config struct {
	PublishableKey string
	Currency       string
	States         []string
}

type Request struct {
	DeviceID string
	// User is nil when the shopper is not signed in.
	User     *models.User
	Shipping models.ShippingDetails
}

type Result struct {
	Redirect string          `json:"redirect,omitempty"`
	Order    *models.Order   `json:"order,omitempty"`
	Payment  *payment.Handle `json:"payment,omitempty"`
}

type Initiator struct {
	hub     *cart.Hub
	orders  order.Service
	gateway payment.Gateway
	stock   StockAdjuster
	mailer  mail.Mailer
	cfg     Config
	logger  *zap.Logger
}

func NewInitiator(hub *cart.Hub, orders order.Service, gateway payment.Gateway, stock StockAdjuster,
	mailer mail.Mailer, cfg Config, logger *zap.Logger) *Initiator {
	if cfg.Currency == "" {
		cfg.Currency = "ngn"
	}
	if cfg.States == nil {
		cfg.States = DefaultStates
	}
	return &Initiator{
		hub:     hub,
		orders:  orders,
		gateway: gateway,
		stock:   stock,
		mailer:  mailer,
		cfg:     cfg,
		logger:  logger,
	}
}

// AmountMinorUnits converts a major-unit total into the gateway's minor units.
func AmountMinorUnits(total decimal.Decimal) int64 {
	return total.Mul(minorUnitsPerMajor).Round(0).IntPart()
}

// ProceedURL is where the cart's checkout button sends the shopper.
func ProceedURL(total decimal.Decimal, signedIn bool) string {
	q := url.Values{"amount": {total.StringFixed(2)}}.Encode()
	if signedIn {
		return CheckoutPath + "?" + q
	}
	return SignInPath + "?redirect=" + CheckoutPath + "&" + q
}

// Begin validates the checkout, records a pending order and opens a gateway
// transaction. ErrAuthRequired and ErrEmptyCart come back with Result.Redirect set.
func (i *Initiator) Begin(ctx context.Context, req Request) (*Result, error) {
	store, err := i.hub.Open(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	snapshot := store.Snapshot()

	if req.User == nil {
		metrics.RecordCheckout("auth_required")
		return &Result{Redirect: ProceedURL(snapshot.TotalAmount(), false)}, ErrAuthRequired
	}
	if snapshot.IsEmpty() {
		metrics.RecordCheckout("empty_cart")
		return &Result{Redirect: ProductsPath}, ErrEmptyCart
	}

	shipping := req.Shipping
	if strings.TrimSpace(shipping.Email) == "" {
		shipping.Email = req.User.Email
	}
	if err = ValidateShipping(&shipping, i.cfg.States); err != nil {
		metrics.RecordCheckout("invalid")
		return nil, err
	}

	total := snapshot.TotalAmount()
	o := &models.Order{
		DeviceID:    store.Key(),
		CustomerID:  req.User.UID,
		Email:       shipping.Email,
		Currency:    i.cfg.Currency,
		Total:       total,
		AmountMinor: AmountMinorUnits(total),
		Shipping:    shipping,
		Items:       snapshot.Items,
	}
	if err = i.orders.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	metadata, err := transactionMetadata(o)
	if err != nil {
		return nil, err
	}

	orderID := o.ID
	handle, err := i.gateway.NewTransaction(ctx, payment.Transaction{
		Key:              i.cfg.PublishableKey,
		Email:            o.Email,
		AmountMinorUnits: o.AmountMinor,
		Currency:         o.Currency,
		Metadata:         metadata,
		IdempotencyKey:   orderID,
		OnSuccess: func(ctx context.Context, _ payment.Receipt) {
			i.Settle(ctx, orderID, enum.PaymentOutcomeSuccess)
		},
		OnCancel: func(ctx context.Context, _ payment.Receipt) {
			i.Settle(ctx, orderID, enum.PaymentOutcomeCancel)
		},
	})
	if err != nil {
		metrics.RecordCheckout("gateway_error")
		if _, uerr := i.orders.UpdateOrderStatus(ctx, orderID, enum.OrderStatusCancelled); uerr != nil {
			i.logger.Warn("Failed to cancel order after gateway error", zap.String("order_id", orderID), zap.Error(uerr))
		}
		return nil, fmt.Errorf("%w: %w", payment.ErrGatewayUnavailable, err)
	}

	if err = i.orders.AttachPaymentIntent(ctx, orderID, handle.Reference); err != nil {
		return nil, err
	}
	o.PaymentIntentID = handle.Reference

	metrics.RecordCheckout("initiated")
	i.logger.Info("Checkout started",
		zap.String("order_id", orderID),
		zap.String("device_id", o.DeviceID),
		zap.Int64("amount", o.AmountMinor))

	return &Result{Order: o, Payment: handle}, nil
}

// Settle applies a gateway outcome to the order. A success clears the cart,
// takes the items out of stock and sends the confirmation mail.
func (i *Initiator) Settle(ctx context.Context, orderID string, outcome enum.PaymentOutcome) {
	switch outcome {
	case enum.PaymentOutcomeSuccess:
		i.succeed(ctx, orderID)
	case enum.PaymentOutcomeCancel:
		if _, err := i.orders.UpdateOrderStatus(ctx, orderID, enum.OrderStatusCancelled); err != nil {
			i.logger.Warn("Failed to cancel order", zap.String("order_id", orderID), zap.Error(err))
		}
		metrics.RecordCheckout("cancelled")
		i.logger.Info(MessageCancelled, zap.String("order_id", orderID))
	case enum.PaymentOutcomeFailure:
		if _, err := i.orders.UpdateOrderStatus(ctx, orderID, enum.OrderStatusFailed); err != nil {
			i.logger.Warn("Failed to mark order failed", zap.String("order_id", orderID), zap.Error(err))
		}
		metrics.RecordCheckout("failed")
	}
}

func (i *Initiator) succeed(ctx context.Context, orderID string) {
	o, err := i.orders.GetOrder(ctx, orderID)
	if err != nil {
		i.logger.Error("Failed to load paid order", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	// 重送的成功通知不動購物車，使用者可能已經開始新的購物
	if o.Status == enum.OrderStatusPaid {
		i.logger.Debug("Order already paid", zap.String("order_id", orderID))
		return
	}

	if store, err := i.hub.Open(ctx, o.DeviceID); err == nil {
		store.Clear()
	} else {
		i.logger.Warn("Failed to open cart for paid order", zap.String("order_id", orderID), zap.Error(err))
	}

	if o, err = i.orders.UpdateOrderStatus(ctx, orderID, enum.OrderStatusPaid); err != nil {
		i.logger.Error("Failed to mark order paid", zap.String("order_id", orderID), zap.Error(err))
		return
	}

	for _, item := range o.Items {
		if err = i.stock.AdjustStock(ctx, nil, item.ID, -item.Quantity); err != nil {
			i.logger.Warn("Failed to take item out of stock",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ID.String()),
				zap.Error(err))
		}
	}

	if err = i.mailer.SendOrderConfirmation(ctx, o); err != nil {
		i.logger.Warn("Failed to send order confirmation", zap.String("order_id", orderID), zap.Error(err))
	}

	metrics.RecordCheckout("succeeded")
	i.logger.Info(MessageSucceeded, zap.String("order_id", orderID))
}

// StatusMessage is the shopper-facing text for an order's payment state.
func StatusMessage(status enum.OrderStatus) string {
	switch status {
	case enum.OrderStatusPaid, enum.OrderStatusCompleted:
		return MessageSucceeded
	case enum.OrderStatusCancelled:
		return MessageCancelled
	case enum.OrderStatusFailed:
		return "Payment failed"
	case enum.OrderStatusRefunded, enum.OrderStatusPartiallyRefunded:
		return "Payment refunded"
	default:
		return "Awaiting payment"
	}
}

// metadataValueLimit is the gateway's per-value metadata cap.
const metadataValueLimit = 500

type metadataItem struct {
	ID       models.ItemID   `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

func transactionMetadata(o *models.Order) (map[string]string, error) {
	compact := make([]metadataItem, len(o.Items))
	for idx, item := range o.Items {
		compact[idx] = metadataItem{ID: item.ID, Name: item.Name, Price: item.Price, Quantity: item.Quantity}
	}
	items, err := json.Marshal(compact)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cart items: %w", err)
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shipping address: %w", err)
	}

	cartItems := string(items)
	if len(cartItems) > metadataValueLimit {
		// 完整明細保存在訂單，這裡只留 id x 數量
		pairs := make([]string, len(o.Items))
		for idx, item := range o.Items {
			pairs[idx] = fmt.Sprintf("%sx%d", item.ID, item.Quantity)
		}
		cartItems = truncate(strings.Join(pairs, ","), metadataValueLimit)
	}

	shippingAddress := string(shipping)
	if len(shippingAddress) > metadataValueLimit {
		// 截斷的 JSON 無法解析，改放 "city, state"，完整地址在訂單裡
		shippingAddress = truncate(compactShipping(o.Shipping), metadataValueLimit)
	}

	return map[string]string{
		"cart_items":       cartItems,
		"shipping_address": shippingAddress,
		"device_id":        o.DeviceID,
		"order_id":         o.ID,
	}, nil
}

func compactShipping(s models.ShippingDetails) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{s.City, s.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
