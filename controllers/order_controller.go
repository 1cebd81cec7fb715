package controllers

import (
	"context"
	"net/http"
	"strconv"

	"storefront/models"
	"storefront/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type OrderController struct {
	Orders *services.OrderService
}

func NewOrderController(orders *services.OrderService) *OrderController {
	return &OrderController{Orders: orders}
}

// CreateOrder builds an immutable order from the user's cart.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	order, svcErr := oc.Orders.CreateOrderFromCart(c.Request.Context(), userID, &req)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (oc *OrderController) GetOrders(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	resp, svcErr := oc.Orders.GetUserOrders(c.Request.Context(), userID, page, limit)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, svcErr := oc.Orders.GetOrder(c.Request.Context(), userID, orderID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelOrder is the administrative cancellation path.
func (oc *OrderController) CancelOrder(c *gin.Context) {
	oc.transition(c, oc.Orders.CancelOrder)
}

func (oc *OrderController) ShipOrder(c *gin.Context) {
	oc.transition(c, oc.Orders.MarkShipped)
}

func (oc *OrderController) DeliverOrder(c *gin.Context) {
	oc.transition(c, oc.Orders.MarkDelivered)
}

func (oc *OrderController) transition(c *gin.Context, fn func(ctx context.Context, orderID uuid.UUID) (*models.Order, *services.ServiceError)) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, svcErr := fn(c.Request.Context(), orderID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, order)
}
