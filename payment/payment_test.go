package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/models/enum"
)

func TestCallbacks_ResolveRunsOnce(t *testing.T) {
	c := NewCallbacks(zap.NewNop())
	ctx := context.Background()

	var successes, cancels int
	c.Register("pi_1",
		func(context.Context, Receipt) { successes++ },
		func(context.Context, Receipt) { cancels++ })

	assert.True(t, c.Resolve(ctx, enum.PaymentOutcomeSuccess, Receipt{Reference: "pi_1"}))
	assert.False(t, c.Resolve(ctx, enum.PaymentOutcomeSuccess, Receipt{Reference: "pi_1"}))
	assert.Equal(t, 1, successes)
	assert.Zero(t, cancels)
	assert.Zero(t, c.Len())
}

func TestCallbacks_FailureKeepsRegistration(t *testing.T) {
	c := NewCallbacks(zap.NewNop())
	ctx := context.Background()

	var cancels int
	c.Register("pi_1", nil, func(context.Context, Receipt) { cancels++ })

	assert.True(t, c.Resolve(ctx, enum.PaymentOutcomeFailure, Receipt{Reference: "pi_1"}))
	assert.Equal(t, 1, c.Len())

	assert.True(t, c.Resolve(ctx, enum.PaymentOutcomeCancel, Receipt{Reference: "pi_1"}))
	assert.Equal(t, 1, cancels)
	assert.Zero(t, c.Len())
}

func TestCallbacks_UnknownReference(t *testing.T) {
	c := NewCallbacks(zap.NewNop())
	assert.False(t, c.Resolve(context.Background(), enum.PaymentOutcomeSuccess, Receipt{Reference: "pi_missing"}))
}

func TestCallbacks_RecoversPanics(t *testing.T) {
	c := NewCallbacks(zap.NewNop())
	c.Register("pi_1", func(context.Context, Receipt) { panic("boom") }, nil)

	assert.NotPanics(t, func() {
		assert.True(t, c.Resolve(context.Background(), enum.PaymentOutcomeSuccess, Receipt{Reference: "pi_1"}))
	})
	assert.Zero(t, c.Len())
}

type fakeIntents struct {
	params *stripe.PaymentIntentParams
	err    error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Amount: *params.Amount}, nil
}

func TestStripeGateway_NewTransaction(t *testing.T) {
	intents := &fakeIntents{}
	callbacks := NewCallbacks(zap.NewNop())
	g := NewStripeGateway(intents, callbacks, zap.NewNop())

	paid := false
	handle, err := g.NewTransaction(context.Background(), Transaction{
		Key:              "pk_test",
		Email:            "buyer@example.com",
		AmountMinorUnits: 7999,
		Currency:         "NGN",
		Metadata:         map[string]string{"order_id": "order-1"},
		IdempotencyKey:   "order-1",
		OnSuccess:        func(context.Context, Receipt) { paid = true },
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", handle.Reference)
	assert.Equal(t, "pi_123_secret", handle.ClientSecret)
	assert.Equal(t, "pk_test", handle.PublishableKey)
	assert.Equal(t, int64(7999), handle.AmountMinorUnits)
	assert.Equal(t, "ngn", handle.Currency)

	require.NotNil(t, intents.params)
	assert.Equal(t, int64(7999), *intents.params.Amount)
	assert.Equal(t, "ngn", *intents.params.Currency)
	assert.Equal(t, "buyer@example.com", *intents.params.ReceiptEmail)
	assert.Equal(t, "order-1", intents.params.Metadata["order_id"])
	assert.Equal(t, "order-1", *intents.params.IdempotencyKey)

	assert.Equal(t, 1, callbacks.Len())
	callbacks.Resolve(context.Background(), enum.PaymentOutcomeSuccess, Receipt{Reference: "pi_123"})
	assert.True(t, paid)
}

func TestStripeGateway_Errors(t *testing.T) {
	intents := &fakeIntents{}
	callbacks := NewCallbacks(zap.NewNop())
	g := NewStripeGateway(intents, callbacks, zap.NewNop())

	_, err := g.NewTransaction(context.Background(), Transaction{AmountMinorUnits: 0, Currency: "ngn"})
	assert.Error(t, err)
	assert.Nil(t, intents.params)

	intents.err = errors.New("card_error")
	_, err = g.NewTransaction(context.Background(), Transaction{AmountMinorUnits: 100, Currency: "ngn"})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Zero(t, callbacks.Len())
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.NewTransaction(context.Background(), Transaction{AmountMinorUnits: 100})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestReceiptFromIntent(t *testing.T) {
	r := ReceiptFromIntent(&stripe.PaymentIntent{
		ID:       "pi_1",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   2500,
		Currency: stripe.CurrencyNGN,
		Metadata: map[string]string{"order_id": "order-1"},
	})
	assert.Equal(t, Receipt{
		Reference:        "pi_1",
		Status:           "succeeded",
		AmountMinorUnits: 2500,
		Currency:         "ngn",
		Metadata:         map[string]string{"order_id": "order-1"},
	}, r)
}

type capturePublisher struct {
	subject string
	data    []byte
	err     error
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	c.subject, c.data = subject, data
	return c.err
}

func signPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

const testEvent = `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":"2024-06-20","data":{"object":{"id":"pi_1","object":"payment_intent","amount":2500,"currency":"ngn","status":"succeeded"}}}`

func TestWebhookRelay(t *testing.T) {
	pub := &capturePublisher{}
	relay := NewWebhookRelay("whsec_test", pub, zap.NewNop())
	payload := []byte(testEvent)

	event, err := relay.Relay(payload, signPayload("whsec_test", payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventSubjectPrefix+"payment_intent.succeeded", pub.subject)
	assert.Equal(t, payload, pub.data)
}

func TestWebhookRelay_RejectsBadSignature(t *testing.T) {
	pub := &capturePublisher{}
	relay := NewWebhookRelay("whsec_test", pub, zap.NewNop())
	payload := []byte(testEvent)

	_, err := relay.Relay(payload, signPayload("whsec_other", payload))
	assert.Error(t, err)
	assert.Empty(t, pub.subject)

	_, err = relay.Relay(payload, "")
	assert.Error(t, err)
}

func TestWebhookRelay_PublishFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("nats: connection closed")}
	relay := NewWebhookRelay("whsec_test", pub, zap.NewNop())
	payload := []byte(testEvent)

	_, err := relay.Relay(payload, signPayload("whsec_test", payload))
	assert.ErrorIs(t, err, ErrRelayUnavailable)

	_, err = relay.Relay(payload, signPayload("whsec_other", payload))
	assert.NotErrorIs(t, err, ErrRelayUnavailable)
}
