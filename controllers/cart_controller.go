package controllers

import (
	"net/http"

	"storefront/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CartController struct {
	Carts *services.CartService
}

func NewCartController(carts *services.CartService) *CartController {
	return &CartController{Carts: carts}
}

type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// GetCart returns the user's cart with derived subtotal and item count.
func (cc *CartController) GetCart(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	cart, svcErr := cc.Carts.GetCart(c.Request.Context(), userID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) AddItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	cart, svcErr := cc.Carts.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) UpdateItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	itemID, err := uuid.Parse(c.Param("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	var req setQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	cart, svcErr := cc.Carts.SetItemQuantity(c.Request.Context(), userID, itemID, req.Quantity)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) RemoveItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	itemID, err := uuid.Parse(c.Param("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	cart, svcErr := cc.Carts.RemoveItem(c.Request.Context(), userID, itemID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) ClearCart(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if svcErr := cc.Carts.ClearCart(c.Request.Context(), userID); svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cart cleared"})
}

// currentUserID resolves the caller's identity from the X-User-ID header.
// Token issuance and verification live upstream of this service.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return userID, true
}
