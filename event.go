package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
)

type EventHandler func(context.Context, *stripe.Event) error

// Subscriber is satisfied by *nats.Conn.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type EventManager struct {
	sub      Subscriber
	mu       sync.RWMutex
	handlers map[stripe.EventType]EventHandler
	logger   *zap.Logger
}

func NewEventManager(sub Subscriber, logger *zap.Logger) *EventManager {
	return &EventManager{
		sub:      sub,
		handlers: make(map[stripe.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType stripe.EventType, handler EventHandler) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType stripe.EventType) (EventHandler, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()
	handler, exists := em.handlers[eventType]
	return handler, exists
}

// SubscribeToEvents feeds every relayed gateway event into wp.
func (em *EventManager) SubscribeToEvents(ctx context.Context, wp *WorkerPool) (*nats.Subscription, error) {
	return em.sub.Subscribe(payment.EventSubjectPrefix+">", func(msg *nats.Msg) {
		if err := submitRaw(ctx, wp, msg.Data); err != nil {
			em.logger.Error("Failed to submit event", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
}

// Loopback hands relayed events straight to the pool when no message bus is
// configured. It satisfies payment.Publisher.
type Loopback struct {
	ctx context.Context
	wp  *WorkerPool
}

func NewLoopback(ctx context.Context, wp *WorkerPool) *Loopback {
	return &Loopback{ctx: ctx, wp: wp}
}

func (l *Loopback) Publish(_ string, data []byte) error {
	return submitRaw(l.ctx, l.wp, data)
}

func submitRaw(ctx context.Context, wp *WorkerPool, data []byte) error {
	var event stripe.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return wp.Submit(ctx, &event)
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[stripe.EventType]EventHandler{
		// Payment Intent Events
		stripe.EventTypePaymentIntentSucceeded:     s.handlePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed: s.handlePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:      s.handlePaymentIntentCanceled,

		// Charge Events
		stripe.EventTypeChargeRefunded: s.handleChargeRefunded,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

func decodePaymentIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	var paymentIntent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &paymentIntent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment intent: %w", err)
	}
	return &paymentIntent, nil
}

// settleIntent resolves the in-process checkout callbacks for the intent. When
// this process did not start the checkout, the order row is settled directly.
func (s *service) settleIntent(ctx context.Context, event *stripe.Event, outcome enum.PaymentOutcome) error {
	paymentIntent, err := decodePaymentIntent(event)
	if err != nil {
		s.logger.Error("Failed to unmarshal PaymentIntent", zap.Error(err))
		return err
	}

	if outcome != enum.PaymentOutcomeFailure &&
		s.callbacks.Resolve(ctx, outcome, payment.ReceiptFromIntent(paymentIntent)) {
		return nil
	}

	orderModel, err := s.orders.GetOrderByPaymentIntentID(ctx, paymentIntent.ID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			s.logger.Warn("No order for PaymentIntent", zap.String("payment_intent_id", paymentIntent.ID))
			return nil
		}
		return fmt.Errorf("failed to get order: %w", err)
	}

	s.checkout.Settle(ctx, orderModel.ID, outcome)
	return nil
}

func (s *service) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	s.logger.Info("Handling PaymentIntent succeeded event", zap.String("event_id", event.ID))
	return s.settleIntent(ctx, event, enum.PaymentOutcomeSuccess)
}

func (s *service) handlePaymentIntentPaymentFailed(ctx context.Context, event *stripe.Event) error {
	s.logger.Info("Handling PaymentIntent payment failed event", zap.String("event_id", event.ID))
	return s.settleIntent(ctx, event, enum.PaymentOutcomeFailure)
}

func (s *service) handlePaymentIntentCanceled(ctx context.Context, event *stripe.Event) error {
	s.logger.Info("Handling PaymentIntent canceled event", zap.String("event_id", event.ID))
	return s.settleIntent(ctx, event, enum.PaymentOutcomeCancel)
}

func (s *service) handleChargeRefunded(ctx context.Context, event *stripe.Event) error {
	s.logger.Info("Handling Charge refunded event", zap.String("event_id", event.ID))

	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		s.logger.Error("Failed to unmarshal Charge", zap.Error(err))
		return err
	}
	if charge.PaymentIntent == nil {
		return fmt.Errorf("charge %s has no payment intent", charge.ID)
	}

	orderModel, err := s.orders.GetOrderByPaymentIntentID(ctx, charge.PaymentIntent.ID)
	if err != nil {
		s.logger.Error("Order not found for Charge", zap.String("charge_id", charge.ID), zap.Error(err))
		return err
	}

	// 全額退款才恢復庫存
	newStatus := enum.OrderStatusPartiallyRefunded
	if charge.AmountRefunded >= orderModel.AmountMinor {
		newStatus = enum.OrderStatusRefunded
	}

	if _, err = s.orders.UpdateOrderStatus(ctx, orderModel.ID, newStatus); err != nil {
		s.logger.Error("Failed to update order status", zap.String("status", string(newStatus)), zap.Error(err))
		return err
	}

	if newStatus == enum.OrderStatusRefunded {
		for _, item := range orderModel.Items {
			if err = s.stock.AdjustStock(ctx, nil, item.ID, item.Quantity); err != nil {
				s.logger.Warn("Failed to restore stock",
					zap.String("product_id", item.ID.String()),
					zap.Error(err))
			}
		}
	}

	s.logger.Info("Order refund recorded",
		zap.String("order_id", orderModel.ID),
		zap.String("status", string(newStatus)))
	return nil
}

func (s *service) ProcessEvent(ctx context.Context, event *stripe.Event) error {
	handler, exists := s.eventManager.GetHandler(event.Type)
	if !exists {
		s.logger.Debug("No handler registered for event type", zap.String("event_type", string(event.Type)))
		return nil
	}

	now := time.Now().UTC()
	inserted, err := s.events.Create(ctx, &models.Event{
		ID:        event.ID,
		Type:      event.Type,
		Processed: false,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.logger.Error("Failed to create event", zap.Error(err))
		return err
	}
	if !inserted {
		existing, err := s.events.GetByID(ctx, event.ID)
		if err == nil && existing.Processed {
			s.logger.Info("Event already processed", zap.String("event_id", event.ID))
			return nil
		}
	}

	if err = handler(ctx, event); err != nil {
		s.logger.Error("Failed to handle event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return err
	}

	if err = s.events.MarkAsProcessed(ctx, event.ID); err != nil {
		s.logger.Warn("Failed to mark event processed", zap.String("event_id", event.ID), zap.Error(err))
	}

	s.logger.Info("Stripe event processed", zap.String("event_id", event.ID))
	return nil
}
