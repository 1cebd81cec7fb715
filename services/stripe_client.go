package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"storefront/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"github.com/stripe/stripe-go/v80/webhook"
)

// sessionExpiry bounds how long a hosted checkout session stays payable.
const sessionExpiry = time.Hour

var centsPerUnit = decimal.NewFromInt(100)

type StripeService struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string
}

func NewStripeService(secretKey, webhookSecret, frontendURL string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
		FrontendURL:   frontendURL,
	}
}

// CreateCheckoutSession requests a hosted payment session for an order. Each
// order item becomes a gateway line item in minor currency units; shipping
// and tax get their own lines so the session total matches the order total.
// Order and user ids ride along as correlation metadata for the webhook.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, order *models.Order, customerEmail string) (*stripe.CheckoutSession, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(order.Items)+2)
	for _, item := range order.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(stripe.CurrencyUSD)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.ProductName),
					Metadata: map[string]string{
						"product_id": item.ProductID.String(),
					},
				},
				UnitAmount: stripe.Int64(toCents(item.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	if order.ShippingCost.IsPositive() {
		lineItems = append(lineItems, priceLine("Standard Shipping", order.ShippingCost))
	}
	if order.TaxAmount.IsPositive() {
		lineItems = append(lineItems, priceLine("Sales Tax", order.TaxAmount))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		ClientReferenceID: stripe.String(order.ID.String()),
		SuccessURL:        stripe.String(s.FrontendURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.FrontendURL + "/cart"),
		ExpiresAt:         stripe.Int64(time.Now().Add(sessionExpiry).Unix()),
	}
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}
	params.Context = ctx
	params.AddMetadata("order_id", order.ID.String())
	params.AddMetadata("user_id", order.UserID.String())

	return session.New(params)
}

// ParseWebhook verifies the Stripe-Signature header against the configured
// webhook secret and returns the parsed event. Callers must reject the
// request on error.
func (s *StripeService) ParseWebhook(r *http.Request) (stripe.Event, error) {
	var event stripe.Event
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return event, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(payload))
	sigHeader := r.Header.Get("Stripe-Signature")
	return webhook.ConstructEvent(payload, sigHeader, s.WebhookSecret)
}

func priceLine(name string, amount decimal.Decimal) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(string(stripe.CurrencyUSD)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			UnitAmount: stripe.Int64(toCents(amount)),
		},
		Quantity: stripe.Int64(1),
	}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(centsPerUnit).Round(0).IntPart()
}
