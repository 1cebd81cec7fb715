package services_test

import (
	"context"
	"net/http"
	"testing"

	"storefront/models"
	"storefront/repository"
	"storefront/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newOrderFixture(t *testing.T) (*services.OrderService, *mockOrderRepo, *mockCartRepo, *mockProductRepo) {
	t.Helper()
	products := newMockProductRepo()
	carts := newMockCartRepo(products)
	orders := newMockOrderRepo()
	svc := services.NewOrderService(orders, carts, products, zap.NewNop())
	return svc, orders, carts, products
}

func testAddress() models.Address {
	return models.Address{
		Line1:      "1 Main St",
		City:       "Springfield",
		PostalCode: "12345",
		Country:    "US",
	}
}

func seedCart(t *testing.T, carts *mockCartRepo, userID uuid.UUID, lines map[uuid.UUID]int) {
	t.Helper()
	ctx := context.Background()
	cart, err := carts.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	for productID, qty := range lines {
		require.NoError(t, carts.AddItem(ctx, cart.ID, productID, qty))
	}
}

func TestCreateOrderFromCartTotals(t *testing.T) {
	svc, orders, carts, products := newOrderFixture(t)
	userID := uuid.New()

	widget := products.add(&models.Product{Name: "Widget", Price: decimal.RequireFromString("15.00"), Stock: 10})
	gadget := products.add(&models.Product{Name: "Gadget", Price: decimal.RequireFromString("10.00"), Stock: 5})
	seedCart(t, carts, userID, map[uuid.UUID]int{widget.ID: 2, gadget.ID: 1})

	order, svcErr := svc.CreateOrderFromCart(context.Background(), userID, &services.CreateOrderRequest{ShippingAddress: testAddress()})
	require.Nil(t, svcErr)
	require.NotNil(t, order)

	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("40.00")), "subtotal = %s", order.Subtotal)
	assert.True(t, order.ShippingCost.Equal(decimal.RequireFromString("9.99")), "shipping = %s", order.ShippingCost)
	assert.True(t, order.TaxAmount.Equal(decimal.RequireFromString("3.20")), "tax = %s", order.TaxAmount)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("53.19")), "total = %s", order.Total)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	require.Len(t, order.Items, 2)

	// Line items are frozen copies of the products at purchase time.
	byProduct := map[uuid.UUID]models.OrderItem{}
	for _, item := range order.Items {
		byProduct[item.ProductID] = item
	}
	assert.Equal(t, "Widget", byProduct[widget.ID].ProductName)
	assert.True(t, byProduct[widget.ID].UnitPrice.Equal(decimal.RequireFromString("15.00")))
	assert.True(t, byProduct[widget.ID].LineTotal.Equal(decimal.RequireFromString("30.00")))
	assert.Equal(t, 2, byProduct[widget.ID].Quantity)

	// Stock is reserved and the cart is emptied.
	assert.Equal(t, 8, products.stock(widget.ID))
	assert.Equal(t, 4, products.stock(gadget.ID))
	assert.Equal(t, 0, carts.itemCount(userID))
	assert.Equal(t, 1, orders.count())
}

func TestCreateOrderFreeShippingAtThreshold(t *testing.T) {
	svc, _, carts, products := newOrderFixture(t)
	userID := uuid.New()

	p := products.add(&models.Product{Name: "Bundle", Price: decimal.RequireFromString("50.00"), Stock: 10})
	seedCart(t, carts, userID, map[uuid.UUID]int{p.ID: 2})

	order, svcErr := svc.CreateOrderFromCart(context.Background(), userID, &services.CreateOrderRequest{ShippingAddress: testAddress()})
	require.Nil(t, svcErr)

	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, order.ShippingCost.IsZero(), "shipping = %s", order.ShippingCost)
	assert.True(t, order.TaxAmount.Equal(decimal.RequireFromString("8.00")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("108.00")))
}

func TestCreateOrderEmptyCart(t *testing.T) {
	svc, orders, _, _ := newOrderFixture(t)

	order, svcErr := svc.CreateOrderFromCart(context.Background(), uuid.New(), &services.CreateOrderRequest{ShippingAddress: testAddress()})
	require.NotNil(t, svcErr)
	assert.Nil(t, order)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	assert.Equal(t, 0, orders.count())
}

func TestCreateOrderInsufficientStockLeavesNoTrace(t *testing.T) {
	svc, orders, carts, products := newOrderFixture(t)
	userID := uuid.New()

	p := products.add(&models.Product{Name: "Scarce", Price: decimal.RequireFromString("20.00"), Stock: 5})
	seedCart(t, carts, userID, map[uuid.UUID]int{p.ID: 3})

	// Stock drains after the item went into the cart.
	require.NoError(t, products.Reserve(context.Background(), p.ID, 4))

	order, svcErr := svc.CreateOrderFromCart(context.Background(), userID, &services.CreateOrderRequest{ShippingAddress: testAddress()})
	require.NotNil(t, svcErr)
	assert.Nil(t, order)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	assert.Contains(t, svcErr.Message, "Scarce")

	// No order, no stock movement, cart untouched.
	assert.Equal(t, 0, orders.count())
	assert.Equal(t, 1, products.stock(p.ID))
	assert.Equal(t, 1, carts.itemCount(userID))
}

// reserveFailRepo depletes one product between the soft check and the
// reservation, simulating a concurrent buyer winning the race.
type reserveFailRepo struct {
	*mockProductRepo
	failOn uuid.UUID
}

func (r *reserveFailRepo) Reserve(ctx context.Context, productID uuid.UUID, quantity int) error {
	if productID == r.failOn {
		return repository.ErrInsufficientStock
	}
	return r.mockProductRepo.Reserve(ctx, productID, quantity)
}

func TestCreateOrderReservationFailureRollsBack(t *testing.T) {
	products := newMockProductRepo()
	carts := newMockCartRepo(products)
	orders := newMockOrderRepo()

	first := products.add(&models.Product{Name: "First", Price: decimal.RequireFromString("10.00"), Stock: 5})
	second := products.add(&models.Product{Name: "Second", Price: decimal.RequireFromString("10.00"), Stock: 5})

	failing := &reserveFailRepo{mockProductRepo: products, failOn: second.ID}
	svc := services.NewOrderService(orders, carts, failing, zap.NewNop())

	userID := uuid.New()
	seedCart(t, carts, userID, map[uuid.UUID]int{first.ID: 2, second.ID: 1})

	order, svcErr := svc.CreateOrderFromCart(context.Background(), userID, &services.CreateOrderRequest{ShippingAddress: testAddress()})
	require.NotNil(t, svcErr)
	assert.Nil(t, order)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)

	// The reservation taken for the first line was released and the order
	// row deleted.
	assert.Equal(t, 5, products.stock(first.ID))
	assert.Equal(t, 5, products.stock(second.ID))
	assert.Equal(t, 0, orders.count())
}

func TestCancelPendingOrderReleasesStock(t *testing.T) {
	svc, orders, _, products := newOrderFixture(t)

	p := products.add(&models.Product{Name: "Widget", Price: decimal.RequireFromString("15.00"), Stock: 8})
	require.NoError(t, products.Reserve(context.Background(), p.ID, 2))

	order := orders.add(&models.Order{
		UserID:        uuid.New(),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Items:         []models.OrderItem{{ProductID: p.ID, ProductName: "Widget", Quantity: 2}},
	})

	got, svcErr := svc.CancelOrder(context.Background(), order.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, 8, products.stock(p.ID))
}

func TestCancelPaidOrderKeepsStockSold(t *testing.T) {
	svc, orders, _, products := newOrderFixture(t)

	p := products.add(&models.Product{Name: "Widget", Price: decimal.RequireFromString("15.00"), Stock: 8})
	require.NoError(t, products.Reserve(context.Background(), p.ID, 2))

	order := orders.add(&models.Order{
		UserID:        uuid.New(),
		Status:        models.OrderStatusProcessing,
		PaymentStatus: models.PaymentStatusPaid,
		Items:         []models.OrderItem{{ProductID: p.ID, ProductName: "Widget", Quantity: 2}},
	})

	got, svcErr := svc.CancelOrder(context.Background(), order.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	// Refunds, not cancellation, decide whether paid stock comes back.
	assert.Equal(t, 6, products.stock(p.ID))
}

func TestCancelShippedOrderRejected(t *testing.T) {
	svc, orders, _, _ := newOrderFixture(t)

	order := orders.add(&models.Order{
		UserID:        uuid.New(),
		Status:        models.OrderStatusShipped,
		PaymentStatus: models.PaymentStatusPaid,
	})

	got, svcErr := svc.CancelOrder(context.Background(), order.ID)
	require.NotNil(t, svcErr)
	assert.Nil(t, got)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
}

func TestMarkShippedRequiresPayment(t *testing.T) {
	svc, orders, _, _ := newOrderFixture(t)

	unpaid := orders.add(&models.Order{
		UserID:        uuid.New(),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
	})

	got, svcErr := svc.MarkShipped(context.Background(), unpaid.ID)
	require.NotNil(t, svcErr)
	assert.Nil(t, got)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
}

func TestFulfillmentFlow(t *testing.T) {
	svc, orders, _, _ := newOrderFixture(t)
	ctx := context.Background()

	order := orders.add(&models.Order{
		UserID:        uuid.New(),
		Status:        models.OrderStatusProcessing,
		PaymentStatus: models.PaymentStatusPaid,
	})

	shipped, svcErr := svc.MarkShipped(ctx, order.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)

	delivered, svcErr := svc.MarkDelivered(ctx, order.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)

	// Delivered is terminal; shipping again is illegal.
	_, svcErr = svc.MarkShipped(ctx, order.ID)
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
}

func TestMarkDeliveredSkipsShippedStep(t *testing.T) {
	svc, orders, _, _ := newOrderFixture(t)

	order := orders.add(&models.Order{
		UserID:        uuid.New(),
		Status:        models.OrderStatusProcessing,
		PaymentStatus: models.PaymentStatusPaid,
	})

	got, svcErr := svc.MarkDelivered(context.Background(), order.ID)
	require.NotNil(t, svcErr)
	assert.Nil(t, got)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
}

func TestGetUserOrdersPagination(t *testing.T) {
	svc, orders, _, _ := newOrderFixture(t)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		orders.add(&models.Order{UserID: userID, Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPending})
	}
	orders.add(&models.Order{UserID: uuid.New(), Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPending})

	resp, svcErr := svc.GetUserOrders(context.Background(), userID, 1, 10)
	require.Nil(t, svcErr)
	assert.Len(t, resp.Orders, 3)
	assert.Equal(t, int64(3), resp.Meta.TotalOrders)
	assert.Equal(t, int64(1), resp.Meta.TotalPages)
	assert.False(t, resp.Meta.HasMore)
}

func TestGetOrderScopedToUser(t *testing.T) {
	svc, orders, _, _ := newOrderFixture(t)

	owner := uuid.New()
	order := orders.add(&models.Order{UserID: owner, Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPending})

	got, svcErr := svc.GetOrder(context.Background(), owner, order.ID)
	require.Nil(t, svcErr)
	assert.Equal(t, order.ID, got.ID)

	_, svcErr = svc.GetOrder(context.Background(), uuid.New(), order.ID)
	require.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
}
