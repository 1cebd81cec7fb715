package services

import (
	"context"
	"encoding/json"
	"errors"

	"storefront/models"
	"storefront/repository"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// WebhookService reconciles the order lifecycle from payment gateway
// notifications. Delivery is at-least-once and unordered, so every handler is
// idempotent: it checks the order's current state before acting and applies
// transitions through payment-status-guarded updates, never by arrival order.
type WebhookService struct {
	orders   repository.OrderRepository
	products repository.ProductRepository
	notifier Notifier
	logger   *zap.Logger
}

func NewWebhookService(orders repository.OrderRepository, products repository.ProductRepository, notifier Notifier, logger *zap.Logger) *WebhookService {
	return &WebhookService{orders: orders, products: products, notifier: notifier, logger: logger}
}

// HandleEvent dispatches a verified gateway event. A nil return means the
// event was processed or intentionally skipped (malformed, foreign, or
// duplicate) and the gateway should not redeliver; an error signals a
// transient failure the gateway may retry.
func (s *WebhookService) HandleEvent(ctx context.Context, event stripe.Event) error {
	s.logger.Info("Processing webhook event",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	)

	switch event.Type {
	case "checkout.session.completed":
		return s.handlePaymentCompleted(ctx, event, true)
	case "checkout.session.async_payment_succeeded":
		return s.handlePaymentCompleted(ctx, event, false)
	case "checkout.session.async_payment_failed":
		return s.handleAsyncPaymentFailed(ctx, event)
	case "charge.refunded":
		return s.handleChargeRefunded(ctx, event)
	default:
		s.logger.Info("Unhandled webhook event type", zap.String("event_type", string(event.Type)))
		return nil
	}
}

// handlePaymentCompleted marks the order paid and moves it into processing.
// Redelivery is a no-op: the guarded update only wins while the order is not
// yet paid, so the confirmation email goes out at most once.
func (s *WebhookService) handlePaymentCompleted(ctx context.Context, event stripe.Event, notify bool) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		s.logger.Error("Failed to unmarshal checkout session", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	order, ok, err := s.resolveOrder(ctx, event.ID, sess.Metadata)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		s.logger.Info("Skipping duplicate payment webhook",
			zap.String("order_id", order.ID.String()),
			zap.String("event_id", event.ID),
		)
		return nil
	}
	if order.Status.IsFulfilled() || !order.Status.CanTransitionTo(models.OrderStatusProcessing) {
		s.logger.Warn("Rejecting illegal transition from payment event",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
			zap.String("event_type", string(event.Type)),
		)
		return nil
	}

	updates := map[string]interface{}{
		"status":         models.OrderStatusProcessing,
		"payment_status": models.PaymentStatusPaid,
	}
	if sess.ID != "" {
		updates["stripe_session_id"] = sess.ID
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		updates["stripe_payment_intent_id"] = sess.PaymentIntent.ID
	}

	won, err := s.orders.UpdateFieldsIfPayment(ctx, order.ID, order.PaymentStatus, updates)
	if err != nil {
		s.logger.Error("Failed to update order from payment event",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return err
	}
	if !won {
		s.logger.Info("Payment event lost the transition race; skipping",
			zap.String("order_id", order.ID.String()),
			zap.String("event_id", event.ID),
		)
		return nil
	}

	s.logger.Info("Order marked paid",
		zap.String("order_id", order.ID.String()),
		zap.String("event_id", event.ID),
	)

	// Notification failure never rolls back the order.
	if notify && s.notifier != nil {
		s.notifier.SendOrderConfirmation(ctx, order, sess.CustomerEmail)
		s.notifier.NotifyAdmin(ctx, order, sess.CustomerEmail)
	}
	return nil
}

// handleAsyncPaymentFailed returns the order to pending with payment failed
// and restores the reserved stock. The guarded update ensures only one
// delivery performs the release.
func (s *WebhookService) handleAsyncPaymentFailed(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		s.logger.Error("Failed to unmarshal checkout session", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	order, ok, err := s.resolveOrder(ctx, event.ID, sess.Metadata)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if order.PaymentStatus != models.PaymentStatusPending {
		s.logger.Info("Skipping payment-failed webhook; payment already settled",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_status", string(order.PaymentStatus)),
			zap.String("event_id", event.ID),
		)
		return nil
	}
	if order.Status.IsFulfilled() {
		s.logger.Warn("Rejecting illegal transition from payment event",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
			zap.String("event_type", string(event.Type)),
		)
		return nil
	}

	won, err := s.orders.UpdateFieldsIfPayment(ctx, order.ID, models.PaymentStatusPending, map[string]interface{}{
		"status":         models.OrderStatusPending,
		"payment_status": models.PaymentStatusFailed,
	})
	if err != nil {
		s.logger.Error("Failed to update order from payment event",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return err
	}
	if !won {
		return nil
	}

	s.releaseOrderStock(ctx, order)
	s.logger.Info("Order payment failed; stock released",
		zap.String("order_id", order.ID.String()),
		zap.String("event_id", event.ID),
	)
	return nil
}

// handleChargeRefunded cancels the order. Stock reserved for the order is
// released unless an earlier payment failure already released it.
func (s *WebhookService) handleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		s.logger.Error("Failed to unmarshal charge", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	order, ok, err := s.resolveChargeOrder(ctx, event.ID, &charge)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if order.PaymentStatus == models.PaymentStatusRefunded {
		s.logger.Info("Skipping duplicate refund webhook",
			zap.String("order_id", order.ID.String()),
			zap.String("event_id", event.ID),
		)
		return nil
	}
	if order.Status.IsFulfilled() || !order.Status.CanTransitionTo(models.OrderStatusCancelled) {
		s.logger.Warn("Rejecting illegal transition from refund event",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
		)
		return nil
	}

	won, err := s.orders.UpdateFieldsIfPayment(ctx, order.ID, order.PaymentStatus, map[string]interface{}{
		"status":         models.OrderStatusCancelled,
		"payment_status": models.PaymentStatusRefunded,
	})
	if err != nil {
		s.logger.Error("Failed to update order from refund event",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return err
	}
	if !won {
		return nil
	}

	// A failed payment already put the units back.
	if order.PaymentStatus != models.PaymentStatusFailed {
		s.releaseOrderStock(ctx, order)
	}

	s.logger.Info("Order refunded and cancelled",
		zap.String("order_id", order.ID.String()),
		zap.String("event_id", event.ID),
	)
	return nil
}

// resolveOrder matches an event back to its order via correlation metadata.
// Events with missing metadata or an unknown order id are foreign or
// malformed: logged and skipped, never retried. A transient store failure is
// returned as an error so the gateway redelivers instead of losing the event.
func (s *WebhookService) resolveOrder(ctx context.Context, eventID string, metadata map[string]string) (*models.Order, bool, error) {
	rawID := metadata["order_id"]
	if rawID == "" {
		s.logger.Warn("Webhook event missing order metadata", zap.String("event_id", eventID))
		return nil, false, nil
	}
	orderID, err := uuid.Parse(rawID)
	if err != nil {
		s.logger.Warn("Webhook event has malformed order id",
			zap.String("event_id", eventID), zap.String("order_id", rawID))
		return nil, false, nil
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Webhook event references unknown order",
				zap.String("event_id", eventID), zap.String("order_id", rawID))
			return nil, false, nil
		}
		s.logger.Error("Failed to load order for webhook event",
			zap.String("event_id", eventID), zap.String("order_id", rawID), zap.Error(err))
		return nil, false, err
	}
	return order, true, nil
}

// resolveChargeOrder prefers charge metadata but falls back to the stored
// payment intent reference, since refunded charges do not always carry the
// session's metadata.
func (s *WebhookService) resolveChargeOrder(ctx context.Context, eventID string, charge *stripe.Charge) (*models.Order, bool, error) {
	if charge.Metadata["order_id"] != "" {
		return s.resolveOrder(ctx, eventID, charge.Metadata)
	}
	if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
		order, err := s.orders.FindByPaymentIntentID(ctx, charge.PaymentIntent.ID)
		if err == nil {
			return order, true, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("Failed to load order by payment intent",
				zap.String("event_id", eventID),
				zap.String("payment_intent_id", charge.PaymentIntent.ID),
				zap.Error(err),
			)
			return nil, false, err
		}
	}
	s.logger.Warn("Refund event could not be matched to an order", zap.String("event_id", eventID))
	return nil, false, nil
}

func (s *WebhookService) releaseOrderStock(ctx context.Context, order *models.Order) {
	for _, item := range order.Items {
		if err := s.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to release stock for order item",
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", item.ProductID.String()),
				zap.Error(err),
			)
		}
	}
}
