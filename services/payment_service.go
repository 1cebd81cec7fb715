package services

import (
	"context"
	"errors"
	"net/http"

	"storefront/models"
	"storefront/repository"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// CheckoutGateway is the slice of the payment gateway the checkout path
// needs; StripeService satisfies it.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, order *models.Order, customerEmail string) (*stripe.CheckoutSession, error)
}

type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type PaymentService struct {
	orders  repository.OrderRepository
	gateway CheckoutGateway
	logger  *zap.Logger
}

func NewPaymentService(orders repository.OrderRepository, gateway CheckoutGateway, logger *zap.Logger) *PaymentService {
	return &PaymentService{orders: orders, gateway: gateway, logger: logger}
}

// Checkout creates a hosted payment session for a pending order. An order
// already marked paid, or past pending, is not payable. The new session id
// supersedes any prior one, so a retried checkout never double-books stock:
// the reservation happened at order creation and is untouched here.
func (s *PaymentService) Checkout(ctx context.Context, userID, orderID uuid.UUID, customerEmail string) (*CheckoutResponse, *ServiceError) {
	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(http.StatusNotFound, "Order not found")
		}
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to fetch order")
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, newError(http.StatusConflict, "Order already paid")
	}
	if order.Status != models.OrderStatusPending {
		return nil, newError(http.StatusConflict, "Order cannot be paid from status %s", order.Status)
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, order, customerEmail)
	if err != nil {
		s.logger.Error("Stripe checkout session creation failed",
			zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusBadGateway, "Payment gateway error")
	}

	// Guarded store: a webhook that marks the order paid between the gateway
	// call and here must keep its session reference, not have it overwritten.
	won, err := s.orders.UpdateFieldsIfPayment(ctx, orderID, models.PaymentStatusPending, map[string]interface{}{
		"stripe_session_id": sess.ID,
	})
	if err != nil {
		s.logger.Error("Failed to store session reference",
			zap.String("order_id", orderID.String()),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return nil, newError(http.StatusInternalServerError, "Failed to store session reference")
	}
	if !won {
		s.logger.Info("Order settled while creating checkout session",
			zap.String("order_id", orderID.String()),
			zap.String("session_id", sess.ID),
		)
		return nil, newError(http.StatusConflict, "Order already paid")
	}

	s.logger.Info("Checkout session created",
		zap.String("order_id", orderID.String()),
		zap.String("session_id", sess.ID),
	)
	return &CheckoutResponse{SessionID: sess.ID, URL: sess.URL}, nil
}
