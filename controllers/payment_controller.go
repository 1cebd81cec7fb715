package controllers

import (
	"context"
	"net/http"

	"storefront/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// WebhookParser verifies an inbound gateway notification; StripeService
// satisfies it.
type WebhookParser interface {
	ParseWebhook(r *http.Request) (stripe.Event, error)
}

// EventHandler reconciles a verified gateway event; WebhookService
// satisfies it.
type EventHandler interface {
	HandleEvent(ctx context.Context, event stripe.Event) error
}

type PaymentController struct {
	Payments *services.PaymentService
	Parser   WebhookParser
	Handler  EventHandler
	Logger   *zap.Logger
}

type checkoutRequest struct {
	OrderID       uuid.UUID `json:"order_id" binding:"required"`
	CustomerEmail string    `json:"customer_email"`
}

// Checkout creates a hosted payment session for an order.
func (pc *PaymentController) Checkout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	resp, svcErr := pc.Payments.Checkout(c.Request.Context(), userID, req.OrderID, req.CustomerEmail)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StripeWebhook receives gateway notifications. A signature failure is a hard
// 400; a transient processing failure is a 500 so the gateway redelivers;
// everything else, duplicates included, is acknowledged with 200.
func (pc *PaymentController) StripeWebhook(c *gin.Context) {
	event, err := pc.Parser.ParseWebhook(c.Request)
	if err != nil {
		pc.Logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	if err := pc.Handler.HandleEvent(c.Request.Context(), event); err != nil {
		pc.Logger.Error("Webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
