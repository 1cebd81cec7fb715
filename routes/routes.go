package routes

import (
	"storefront/controllers"
	"storefront/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the HTTP surface. The webhook route takes the raw
// body; everything else is JSON. Checkout sits behind per-IP rate limiting.
func RegisterRoutes(
	r *gin.Engine,
	products *controllers.ProductController,
	carts *controllers.CartController,
	orders *controllers.OrderController,
	payments *controllers.PaymentController,
	checkoutLimiter *middleware.RateLimiter,
) {
	r.GET("/products", products.GetProducts)
	r.GET("/products/:product_id", products.GetProduct)

	r.GET("/cart", carts.GetCart)
	r.POST("/cart/items", carts.AddItem)
	r.PATCH("/cart/items/:item_id", carts.UpdateItem)
	r.DELETE("/cart/items/:item_id", carts.RemoveItem)
	r.DELETE("/cart", carts.ClearCart)

	r.POST("/orders", orders.CreateOrder)
	r.GET("/orders", orders.GetOrders)
	r.GET("/orders/:order_id", orders.GetOrder)
	r.POST("/orders/:order_id/cancel", orders.CancelOrder)
	r.POST("/orders/:order_id/ship", orders.ShipOrder)
	r.POST("/orders/:order_id/deliver", orders.DeliverOrder)

	r.POST("/checkout", checkoutLimiter.Middleware(), payments.Checkout)
	r.POST("/webhook", payments.StripeWebhook)
}
