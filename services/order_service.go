package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"storefront/models"
	"storefront/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	freeShippingThreshold = decimal.NewFromInt(100)
	flatShippingFee       = decimal.RequireFromString("9.99")
	taxRate               = decimal.RequireFromString("0.08")
)

type CreateOrderRequest struct {
	ShippingAddress models.Address  `json:"shipping_address" binding:"required"`
	BillingAddress  *models.Address `json:"billing_address"`
}

type OrderListResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

type OrderService struct {
	orders   repository.OrderRepository
	carts    repository.CartRepository
	products repository.ProductRepository
	logger   *zap.Logger
}

func NewOrderService(orders repository.OrderRepository, carts repository.CartRepository, products repository.ProductRepository, logger *zap.Logger) *OrderService {
	return &OrderService{orders: orders, carts: carts, products: products, logger: logger}
}

// CreateOrderFromCart converts the user's cart into an immutable order:
// validate stock, snapshot prices into line items, persist order+items
// atomically, reserve stock per item, then clear the cart. Any reservation
// shortfall rolls the whole operation back; a pending order never exists
// without its stock reserved.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, userID uuid.UUID, req *CreateOrderRequest) (*models.Order, *ServiceError) {
	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to load cart")
	}
	if len(cart.Items) == 0 {
		return nil, newError(http.StatusBadRequest, "Cart is empty")
	}

	// Hard stock check against current product state. Abort before any
	// mutation so a shortfall leaves no trace.
	items := make([]models.OrderItem, 0, len(cart.Items))
	subtotal := decimal.Zero
	for _, item := range cart.Items {
		product := item.Product
		if product == nil {
			p, err := s.products.FindByID(ctx, item.ProductID)
			if err != nil {
				s.logger.Error("Failed to load product for cart item",
					zap.String("product_id", item.ProductID.String()), zap.Error(err))
				return nil, newError(http.StatusInternalServerError, "Failed to load product")
			}
			product = p
		}
		if product.Stock < item.Quantity {
			return nil, newError(http.StatusBadRequest, "Insufficient stock for %s", product.Name)
		}

		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		items = append(items, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		})
	}

	shipping := flatShippingFee
	if subtotal.GreaterThanOrEqual(freeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax := subtotal.Mul(taxRate).Round(2)
	total := subtotal.Add(shipping).Add(tax)

	shippingJSON, err := json.Marshal(req.ShippingAddress)
	if err != nil {
		return nil, newError(http.StatusBadRequest, "Invalid shipping address")
	}
	var billingJSON *string
	if req.BillingAddress != nil {
		b, err := json.Marshal(req.BillingAddress)
		if err != nil {
			return nil, newError(http.StatusBadRequest, "Invalid billing address")
		}
		bs := string(b)
		billingJSON = &bs
	}

	order := &models.Order{
		UserID:          userID,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   "card",
		Subtotal:        subtotal,
		ShippingCost:    shipping,
		TaxAmount:       tax,
		Total:           total,
		ShippingAddress: string(shippingJSON),
		BillingAddress:  billingJSON,
		Items:           items,
	}
	if err := s.orders.CreateWithItems(ctx, order); err != nil {
		s.logger.Error("Failed to create order", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to create order")
	}

	// Reserve stock for every line. A failure after the order row exists
	// rolls back the already-reserved lines and deletes the order.
	for i, item := range order.Items {
		if err := s.products.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			s.rollbackReservations(ctx, order, i)
			if errors.Is(err, repository.ErrInsufficientStock) {
				return nil, newError(http.StatusBadRequest, "Insufficient stock for %s", item.ProductName)
			}
			s.logger.Error("Failed to reserve stock",
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", item.ProductID.String()),
				zap.Error(err),
			)
			return nil, newError(http.StatusInternalServerError, "Failed to reserve stock")
		}
	}

	if err := s.carts.Clear(ctx, cart.ID); err != nil {
		// The order is already placed; a surviving cart is an annoyance,
		// not a correctness problem.
		s.logger.Warn("Failed to clear cart after order creation",
			zap.String("cart_id", cart.ID.String()), zap.Error(err))
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("total", order.Total.String()),
	)
	return order, nil
}

// rollbackReservations releases the first n reserved lines and deletes the
// order so no stock stays reserved for a nonexistent order.
func (s *OrderService) rollbackReservations(ctx context.Context, order *models.Order, n int) {
	for _, item := range order.Items[:n] {
		if err := s.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to release stock during rollback",
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", item.ProductID.String()),
				zap.Error(err),
			)
		}
	}
	if err := s.orders.DeleteWithItems(ctx, order.ID); err != nil {
		s.logger.Error("Failed to delete order during rollback",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, *ServiceError) {
	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(http.StatusNotFound, "Order not found")
		}
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to fetch order")
	}
	return order, nil
}

func (s *OrderService) GetUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (*OrderListResponse, *ServiceError) {
	orders, total, err := s.orders.FindByUserID(ctx, userID, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch orders", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to fetch orders")
	}
	return &OrderListResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}, nil
}

// CancelOrder is the administrative cancellation path. Cancelling an order
// whose payment never completed releases its reserved stock.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, *ServiceError) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(http.StatusNotFound, "Order not found")
		}
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to fetch order")
	}

	if !order.Status.CanTransitionTo(models.OrderStatusCancelled) || order.Status == models.OrderStatusCancelled {
		return nil, newError(http.StatusConflict, "Order cannot be cancelled from status %s", order.Status)
	}

	won, err := s.orders.UpdateFieldsIfPayment(ctx, orderID, order.PaymentStatus, map[string]interface{}{
		"status": models.OrderStatusCancelled,
	})
	if err != nil {
		s.logger.Error("Failed to cancel order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to cancel order")
	}
	if !won {
		return nil, newError(http.StatusConflict, "Order changed concurrently; not cancelled")
	}

	// Stock is still reserved only while payment is pending. Failed payments
	// already released it; paid orders keep their units sold.
	if order.PaymentStatus == models.PaymentStatusPending {
		s.releaseOrderStock(ctx, order)
	}

	updated, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to fetch order")
	}
	return updated, nil
}

// MarkShipped moves a paid, processing order into fulfillment.
func (s *OrderService) MarkShipped(ctx context.Context, orderID uuid.UUID) (*models.Order, *ServiceError) {
	return s.fulfill(ctx, orderID, models.OrderStatusShipped)
}

// MarkDelivered completes fulfillment of a shipped order.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID uuid.UUID) (*models.Order, *ServiceError) {
	return s.fulfill(ctx, orderID, models.OrderStatusDelivered)
}

func (s *OrderService) fulfill(ctx context.Context, orderID uuid.UUID, next models.OrderStatus) (*models.Order, *ServiceError) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(http.StatusNotFound, "Order not found")
		}
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to fetch order")
	}

	// Fulfillment never outruns payment: an order cannot ship, and therefore
	// cannot be delivered, until it is paid.
	if order.PaymentStatus != models.PaymentStatusPaid {
		return nil, newError(http.StatusConflict, "Order is not paid")
	}
	if order.Status == next {
		return order, nil
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, newError(http.StatusConflict, "Order cannot move from %s to %s", order.Status, next)
	}

	if err := s.orders.UpdateFields(ctx, orderID, map[string]interface{}{"status": next}); err != nil {
		s.logger.Error("Failed to update order status",
			zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to update order")
	}
	updated, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to fetch order")
	}
	return updated, nil
}

func (s *OrderService) releaseOrderStock(ctx context.Context, order *models.Order) {
	for _, item := range order.Items {
		if err := s.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to release stock",
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", item.ProductID.String()),
				zap.Error(err),
			)
		}
	}
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
