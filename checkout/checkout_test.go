package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/storefront/cart"
	"goflare.io/storefront/catalog"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/mail"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
)

type fakeGateway struct {
	txs []payment.Transaction
	err error
}

func (f *fakeGateway) NewTransaction(_ context.Context, tx payment.Transaction) (*payment.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.txs = append(f.txs, tx)
	return &payment.Handle{
		Reference:        "pi_test",
		ClientSecret:     "pi_test_secret",
		PublishableKey:   tx.Key,
		AmountMinorUnits: tx.AmountMinorUnits,
		Currency:         tx.Currency,
	}, nil
}

type fakeMailer struct {
	mu        sync.Mutex
	confirmed []*models.Order
}

func (f *fakeMailer) SendPasswordReset(context.Context, string, string) error { return nil }
func (f *fakeMailer) SendContact(context.Context, mail.ContactMessage) error  { return nil }

func (f *fakeMailer) SendOrderConfirmation(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, o)
	return nil
}

type fixture struct {
	initiator *Initiator
	hub       *cart.Hub
	orders    order.Service
	products  *catalog.MemoryRepository
	gateway   *fakeGateway
	mailer    *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub:    cart.NewHub(cart.NewMemoryPersister(), zap.NewNop()),
		orders: order.NewService(order.NewMemoryRepository(), driver.NoTx{}, zap.NewNop()),
		products: catalog.NewMemoryRepository(
			&models.Product{ID: "1", Name: "Classic Denim Jacket", Price: decimal.RequireFromString("79.99"), Stock: 5},
			&models.Product{ID: "2", Name: "Leather Belt", Price: decimal.RequireFromString("20.00"), Stock: 5},
		),
		gateway: &fakeGateway{},
		mailer:  &fakeMailer{},
	}
	f.initiator = NewInitiator(f.hub, f.orders, f.gateway, f.products, f.mailer, Config{
		PublishableKey: "pk_test",
		Currency:       "ngn",
	}, zap.NewNop())
	return f
}

func (f *fixture) fillCart(t *testing.T, deviceID string) *cart.Store {
	t.Helper()
	store, err := f.hub.Open(context.Background(), deviceID)
	require.NoError(t, err)
	store.AddItem(models.CartLineItem{ID: "1", Name: "Classic Denim Jacket", Price: decimal.RequireFromString("79.99"), Quantity: 2})
	store.AddItem(models.CartLineItem{ID: "2", Name: "Leather Belt", Price: decimal.RequireFromString("20.00"), Quantity: 1})
	return store
}

func validShipping() models.ShippingDetails {
	return models.ShippingDetails{
		Email:   "buyer@example.com",
		Address: "1 Marina Road",
		City:    "Lagos Island",
		State:   "Lagos",
		Phone:   "+2348000000000",
	}
}

var shopper = &models.User{UID: "uid-1", Email: "account@example.com"}

func TestAmountMinorUnits(t *testing.T) {
	assert.Equal(t, int64(7999), AmountMinorUnits(decimal.RequireFromString("79.99")))
	assert.Equal(t, int64(0), AmountMinorUnits(decimal.Zero))
	assert.Equal(t, int64(1000), AmountMinorUnits(decimal.RequireFromString("9.995")))
}

func TestProceedURL(t *testing.T) {
	total := decimal.RequireFromString("79.99")
	assert.Equal(t, "/checkout?amount=79.99", ProceedURL(total, true))
	assert.Equal(t, "/signin?redirect=/checkout&amount=79.99", ProceedURL(total, false))
	assert.Equal(t, "/checkout?amount=0.00", ProceedURL(decimal.Zero, true))
}

func TestValidateShipping(t *testing.T) {
	s := validShipping()
	s.City = "  Ikeja  "
	require.NoError(t, ValidateShipping(&s, DefaultStates))
	assert.Equal(t, "Ikeja", s.City)

	var verr *ValidationError

	empty := models.ShippingDetails{Email: "buyer@example.com", State: " "}
	err := ValidateShipping(&empty, DefaultStates)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"address", "city", "state", "phone"}, verr.Missing)
	assert.Equal(t, "Please fill all required fields", err.Error())

	bad := validShipping()
	bad.Email = "not-an-email"
	bad.State = "Atlantis"
	err = ValidateShipping(&bad, DefaultStates)
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.Missing)
	assert.Equal(t, []string{"email", "state"}, verr.Invalid)

	anyState := validShipping()
	anyState.State = "Atlantis"
	assert.NoError(t, ValidateShipping(&anyState, nil))
}

func TestBegin_RequiresSignIn(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "device-1")

	res, err := f.initiator.Begin(context.Background(), Request{DeviceID: "device-1", Shipping: validShipping()})
	assert.ErrorIs(t, err, ErrAuthRequired)
	require.NotNil(t, res)
	assert.Equal(t, "/signin?redirect=/checkout&amount=179.98", res.Redirect)
	assert.Empty(t, f.gateway.txs)
}

func TestBegin_EmptyCartRedirectsToProducts(t *testing.T) {
	f := newFixture(t)

	res, err := f.initiator.Begin(context.Background(), Request{DeviceID: "device-1", User: shopper, Shipping: validShipping()})
	assert.ErrorIs(t, err, ErrEmptyCart)
	require.NotNil(t, res)
	assert.Equal(t, ProductsPath, res.Redirect)
}

func TestBegin_InvalidShipping(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "device-1")

	shipping := validShipping()
	shipping.Phone = ""
	_, err := f.initiator.Begin(context.Background(), Request{DeviceID: "device-1", User: shopper, Shipping: shipping})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"phone"}, verr.Missing)
	assert.Empty(t, f.gateway.txs)
}

func TestBegin_CreatesPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "device-1")
	ctx := context.Background()

	shipping := validShipping()
	shipping.Email = ""
	res, err := f.initiator.Begin(ctx, Request{DeviceID: "device-1", User: shopper, Shipping: shipping})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	require.NotNil(t, res.Payment)

	assert.Equal(t, "pi_test", res.Payment.Reference)
	assert.Equal(t, "pk_test", res.Payment.PublishableKey)
	assert.Equal(t, int64(17998), res.Payment.AmountMinorUnits)

	require.Len(t, f.gateway.txs, 1)
	tx := f.gateway.txs[0]
	assert.Equal(t, "account@example.com", tx.Email)
	assert.Equal(t, "ngn", tx.Currency)
	assert.Equal(t, res.Order.ID, tx.IdempotencyKey)
	assert.Equal(t, res.Order.ID, tx.Metadata["order_id"])
	assert.Equal(t, "device-1", tx.Metadata["device_id"])
	assert.Contains(t, tx.Metadata["cart_items"], "Classic Denim Jacket")
	assert.Contains(t, tx.Metadata["shipping_address"], "Marina Road")

	stored, err := f.orders.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusPending, stored.Status)
	assert.Equal(t, "pi_test", stored.PaymentIntentID)
	assert.Equal(t, "uid-1", stored.CustomerID)
	assert.Len(t, stored.Items, 2)

	// 付款完成前購物車保持不變
	store, _ := f.hub.Get("device-1")
	assert.Equal(t, 3, store.TotalItems())
}

func TestBegin_SuccessSettlesOrder(t *testing.T) {
	f := newFixture(t)
	store := f.fillCart(t, "device-1")
	ctx := context.Background()

	res, err := f.initiator.Begin(ctx, Request{DeviceID: "device-1", User: shopper, Shipping: validShipping()})
	require.NoError(t, err)

	f.gateway.txs[0].OnSuccess(ctx, payment.Receipt{Reference: "pi_test", Status: "succeeded"})

	assert.Empty(t, store.Items())
	stored, err := f.orders.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusPaid, stored.Status)

	jacket, err := f.products.GetByID(ctx, nil, "1")
	require.NoError(t, err)
	assert.Equal(t, 3, jacket.Stock)
	belt, err := f.products.GetByID(ctx, nil, "2")
	require.NoError(t, err)
	assert.Equal(t, 4, belt.Stock)

	require.Len(t, f.mailer.confirmed, 1)
	assert.Equal(t, res.Order.ID, f.mailer.confirmed[0].ID)

	// 重複通知不會再扣庫存，也不會清掉之後加入的商品
	store.AddItem(models.CartLineItem{ID: "2", Name: "Leather Belt", Price: decimal.RequireFromString("20.00"), Quantity: 1})
	f.initiator.Settle(ctx, res.Order.ID, enum.PaymentOutcomeSuccess)
	jacket, _ = f.products.GetByID(ctx, nil, "1")
	assert.Equal(t, 3, jacket.Stock)
	assert.Len(t, f.mailer.confirmed, 1)
	assert.Equal(t, 1, store.TotalItems())
}

func TestBegin_CancelKeepsCart(t *testing.T) {
	f := newFixture(t)
	store := f.fillCart(t, "device-1")
	ctx := context.Background()

	res, err := f.initiator.Begin(ctx, Request{DeviceID: "device-1", User: shopper, Shipping: validShipping()})
	require.NoError(t, err)

	f.gateway.txs[0].OnCancel(ctx, payment.Receipt{Reference: "pi_test"})

	assert.Equal(t, 3, store.TotalItems())
	stored, err := f.orders.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusCancelled, stored.Status)
	assert.Equal(t, MessageCancelled, StatusMessage(stored.Status))
	assert.Empty(t, f.mailer.confirmed)
}

func TestSettle_Failure(t *testing.T) {
	f := newFixture(t)
	store := f.fillCart(t, "device-1")
	ctx := context.Background()

	res, err := f.initiator.Begin(ctx, Request{DeviceID: "device-1", User: shopper, Shipping: validShipping()})
	require.NoError(t, err)

	f.initiator.Settle(ctx, res.Order.ID, enum.PaymentOutcomeFailure)

	stored, err := f.orders.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusFailed, stored.Status)
	assert.Equal(t, 3, store.TotalItems())

	// 失敗後仍可完成付款
	f.initiator.Settle(ctx, res.Order.ID, enum.PaymentOutcomeSuccess)
	stored, _ = f.orders.GetOrder(ctx, res.Order.ID)
	assert.Equal(t, enum.OrderStatusPaid, stored.Status)
	assert.Empty(t, store.Items())
}

func TestBegin_GatewayErrorCancelsOrder(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("stripe: connection refused")
	store := f.fillCart(t, "device-1")
	ctx := context.Background()

	_, err := f.initiator.Begin(ctx, Request{DeviceID: "device-1", User: shopper, Shipping: validShipping()})
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	assert.Equal(t, 3, store.TotalItems())

	orders, err := f.orders.ListOrders(ctx, "uid-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, enum.OrderStatusCancelled, orders[0].Status)
}

func TestTransactionMetadata_Truncates(t *testing.T) {
	o := &models.Order{ID: "order-1", DeviceID: "device-1"}
	for i := 0; i < 40; i++ {
		o.Items = append(o.Items, models.CartLineItem{
			ID:       models.ItemID(strings.Repeat("x", 3) + string(rune('a'+i%26))),
			Name:     strings.Repeat("long product name ", 3),
			Price:    decimal.NewFromInt(10),
			Quantity: 1,
		})
	}
	o.Shipping = models.ShippingDetails{Address: strings.Repeat("a", 800), City: "Lagos Island", State: "Lagos"}

	md, err := transactionMetadata(o)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(md["cart_items"]), metadataValueLimit)
	assert.True(t, strings.HasPrefix(md["cart_items"], "xxxax1,"))
	assert.Equal(t, "Lagos Island, Lagos", md["shipping_address"])
	assert.Equal(t, "order-1", md["order_id"])
}

func TestTransactionMetadata_ShortShippingStaysJSON(t *testing.T) {
	o := &models.Order{ID: "order-1", Shipping: validShipping()}

	md, err := transactionMetadata(o)
	require.NoError(t, err)
	var got models.ShippingDetails
	require.NoError(t, json.Unmarshal([]byte(md["shipping_address"]), &got))
	assert.Equal(t, validShipping(), got)
}

func TestTransactionMetadata_NonASCIIStaysValidUTF8(t *testing.T) {
	o := &models.Order{ID: "order-1", DeviceID: "device-1"}
	for i := 0; i < 60; i++ {
		o.Items = append(o.Items, models.CartLineItem{
			ID:       models.ItemID(fmt.Sprintf("éé%02d", i)),
			Name:     "Écharpe en laine",
			Price:    decimal.NewFromInt(10),
			Quantity: 1,
		})
	}
	o.Shipping = models.ShippingDetails{Address: strings.Repeat("大街", 200), City: "a" + strings.Repeat("ß", 300)}

	md, err := transactionMetadata(o)
	require.NoError(t, err)
	for _, key := range []string{"cart_items", "shipping_address"} {
		assert.LessOrEqual(t, len(md[key]), metadataValueLimit, key)
		assert.True(t, utf8.ValidString(md[key]), key)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))

	got := truncate(strings.Repeat("a", 499)+"é", 500)
	assert.Equal(t, strings.Repeat("a", 499), got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "", truncate("日本", 2))
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, MessageSucceeded, StatusMessage(enum.OrderStatusPaid))
	assert.Equal(t, "Awaiting payment", StatusMessage(enum.OrderStatusPending))
	assert.Equal(t, "Payment refunded", StatusMessage(enum.OrderStatusPartiallyRefunded))
}
