package services_test

import (
	"context"
	"sync"
	"time"

	"storefront/models"
	"storefront/repository"

	"github.com/google/uuid"
)

// ---- in-memory product repository / stock ledger ----

type mockProductRepo struct {
	mu       sync.Mutex
	products map[uuid.UUID]*models.Product
	releases map[uuid.UUID]int
	reserves map[uuid.UUID]int
}

func newMockProductRepo() *mockProductRepo {
	return &mockProductRepo{
		products: make(map[uuid.UUID]*models.Product),
		releases: make(map[uuid.UUID]int),
		reserves: make(map[uuid.UUID]int),
	}
}

func (m *mockProductRepo) add(p *models.Product) *models.Product {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.products[p.ID] = p
	return p
}

func (m *mockProductRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProductRepo) FindAll(_ context.Context, _, _ int) ([]models.Product, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.products {
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (m *mockProductRepo) Reserve(_ context.Context, productID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Stock < quantity {
		return repository.ErrInsufficientStock
	}
	p.Stock -= quantity
	m.reserves[productID] += quantity
	return nil
}

func (m *mockProductRepo) Release(_ context.Context, productID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Stock += quantity
	m.releases[productID] += quantity
	return nil
}

func (m *mockProductRepo) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

// ---- in-memory cart repository ----

type mockCartRepo struct {
	mu       sync.Mutex
	carts    map[uuid.UUID]*models.Cart // by user id
	products *mockProductRepo
	cleared  int
}

func newMockCartRepo(products *mockProductRepo) *mockCartRepo {
	return &mockCartRepo{
		carts:    make(map[uuid.UUID]*models.Cart),
		products: products,
	}
}

func (m *mockCartRepo) GetOrCreate(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		cart = &models.Cart{ID: uuid.New(), UserID: userID, Items: []models.CartItem{}}
		m.carts[userID] = cart
	}
	// Mimic the preload: attach the current product row to each item.
	cp := *cart
	cp.Items = make([]models.CartItem, len(cart.Items))
	for i, item := range cart.Items {
		cp.Items[i] = item
		if p, ok := m.products.products[item.ProductID]; ok {
			prod := *p
			cp.Items[i].Product = &prod
		}
	}
	return &cp, nil
}

func (m *mockCartRepo) FindItem(_ context.Context, itemID uuid.UUID) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cart := range m.carts {
		for _, item := range cart.Items {
			if item.ID == itemID {
				cp := item
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockCartRepo) AddItem(_ context.Context, cartID, productID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cart := range m.carts {
		if cart.ID != cartID {
			continue
		}
		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				cart.Items[i].Quantity += quantity
				return nil
			}
		}
		cart.Items = append(cart.Items, models.CartItem{
			ID:        uuid.New(),
			CartID:    cartID,
			ProductID: productID,
			Quantity:  quantity,
		})
		return nil
	}
	return repository.ErrNotFound
}

func (m *mockCartRepo) UpdateItemQuantity(_ context.Context, itemID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cart := range m.carts {
		for i := range cart.Items {
			if cart.Items[i].ID == itemID {
				cart.Items[i].Quantity = quantity
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

func (m *mockCartRepo) RemoveItem(_ context.Context, itemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cart := range m.carts {
		for i := range cart.Items {
			if cart.Items[i].ID == itemID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (m *mockCartRepo) Clear(_ context.Context, cartID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	for _, cart := range m.carts {
		if cart.ID == cartID {
			cart.Items = nil
		}
	}
	return nil
}

func (m *mockCartRepo) itemCount(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cart, ok := m.carts[userID]; ok {
		return len(cart.Items)
	}
	return 0
}

// ---- in-memory order repository ----

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (m *mockOrderRepo) add(o *models.Order) *models.Order {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	for i := range o.Items {
		if o.Items[i].ID == uuid.Nil {
			o.Items[i].ID = uuid.New()
		}
		o.Items[i].OrderID = o.ID
	}
	m.orders[o.ID] = o
	return o
}

func (m *mockOrderRepo) CreateWithItems(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	m.add(&cp)
	order.ID = cp.ID
	order.Items = cp.Items
	return nil
}

func (m *mockOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyOf(id)
}

func (m *mockOrderRepo) FindByIDAndUserID(_ context.Context, id, userID uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.copyOf(id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) FindByUserID(_ context.Context, userID uuid.UUID, _, _ int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockOrderRepo) FindByPaymentIntentID(_ context.Context, paymentIntentID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.orders {
		if o.StripePaymentIntentID != nil && *o.StripePaymentIntentID == paymentIntentID {
			return m.copyOf(id)
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockOrderRepo) UpdateFields(_ context.Context, orderID uuid.UUID, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	applyUpdates(o, updates)
	return nil
}

func (m *mockOrderRepo) UpdateFieldsIfPayment(_ context.Context, orderID uuid.UUID, current models.PaymentStatus, updates map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	if o.PaymentStatus != current {
		return false, nil
	}
	applyUpdates(o, updates)
	return true, nil
}

func (m *mockOrderRepo) DeleteWithItems(_ context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
	return nil
}

func (m *mockOrderRepo) FindAbandoned(_ context.Context, cutoff time.Time) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending &&
			o.PaymentStatus == models.PaymentStatusPending &&
			o.UpdatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) CancelIfPendingUnpaid(_ context.Context, orderID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	if o.Status != models.OrderStatusPending || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.Status = models.OrderStatusCancelled
	return true, nil
}

func (m *mockOrderRepo) get(id uuid.UUID) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, _ := m.copyOf(id)
	return o
}

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *mockOrderRepo) copyOf(id uuid.UUID) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp, nil
}

func applyUpdates(o *models.Order, updates map[string]interface{}) {
	for key, val := range updates {
		switch key {
		case "status":
			o.Status = val.(models.OrderStatus)
		case "payment_status":
			o.PaymentStatus = val.(models.PaymentStatus)
		case "stripe_session_id":
			s := val.(string)
			o.StripeSessionID = &s
		case "stripe_payment_intent_id":
			s := val.(string)
			o.StripePaymentIntentID = &s
		case "updated_at":
			o.UpdatedAt = val.(time.Time)
		}
	}
}

// ---- notifier spy ----

type mockNotifier struct {
	mu            sync.Mutex
	confirmations int
	adminNotices  int
}

func (m *mockNotifier) SendOrderConfirmation(_ context.Context, _ *models.Order, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations++
}

func (m *mockNotifier) NotifyAdmin(_ context.Context, _ *models.Order, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminNotices++
}
