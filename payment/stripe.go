package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

// EventSubjectPrefix is where verified gateway events are republished.
const EventSubjectPrefix = "payment.service.event."

// IntentClient is satisfied by *paymentintent.Client.
type IntentClient interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func NewIntentClient(secretKey string) *paymentintent.Client {
	return &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

var _ Gateway = (*StripeGateway)(nil)

type StripeGateway struct {
	intents   IntentClient
	callbacks *Callbacks
	logger    *zap.Logger
}

func NewStripeGateway(intents IntentClient, callbacks *Callbacks, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{intents: intents, callbacks: callbacks, logger: logger}
}

func (g *StripeGateway) NewTransaction(ctx context.Context, tx Transaction) (*Handle, error) {
	if tx.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("failed to create payment intent: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(tx.AmountMinorUnits),
		Currency:     stripe.String(strings.ToLower(tx.Currency)),
		ReceiptEmail: stripe.String(tx.Email),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range tx.Metadata {
		params.AddMetadata(k, v)
	}
	if tx.IdempotencyKey != "" {
		params.SetIdempotencyKey(tx.IdempotencyKey)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		g.logger.Error("Failed to create payment intent", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	g.callbacks.Register(pi.ID, tx.OnSuccess, tx.OnCancel)
	g.logger.Info("Payment intent created",
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount", tx.AmountMinorUnits))

	return &Handle{
		Reference:        pi.ID,
		ClientSecret:     pi.ClientSecret,
		PublishableKey:   tx.Key,
		AmountMinorUnits: tx.AmountMinorUnits,
		Currency:         strings.ToLower(tx.Currency),
	}, nil
}

// ReceiptFromIntent converts a webhook payment intent payload.
func ReceiptFromIntent(pi *stripe.PaymentIntent) Receipt {
	return Receipt{
		Reference:        pi.ID,
		Status:           string(pi.Status),
		AmountMinorUnits: pi.Amount,
		Currency:         string(pi.Currency),
		Metadata:         pi.Metadata,
	}
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// WebhookRelay verifies gateway webhooks and republishes them on the bus.
type WebhookRelay struct {
	secret string
	pub    Publisher
	logger *zap.Logger
}

func NewWebhookRelay(secret string, pub Publisher, logger *zap.Logger) *WebhookRelay {
	return &WebhookRelay{secret: secret, pub: pub, logger: logger}
}

// Relay returns the verified event after publishing it.
func (r *WebhookRelay) Relay(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, r.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify webhook: %w", err)
	}

	if err = r.pub.Publish(EventSubjectPrefix+string(event.Type), payload); err != nil {
		r.logger.Error("Failed to publish webhook event", zap.String("event_id", event.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to publish event: %w: %w", ErrRelayUnavailable, err)
	}

	r.logger.Info("Webhook event relayed", zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	return &event, nil
}
