package services

import (
	"context"
	"errors"
	"net/http"

	"storefront/models"
	"storefront/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartView is the read shape of a cart. Subtotal and ItemCount are derived
// fresh from current item rows and current product prices on every read.
type CartView struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	Items     []models.CartItem `json:"items"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	ItemCount int               `json:"item_count"`
}

type CartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	logger   *zap.Logger
}

func NewCartService(carts repository.CartRepository, products repository.ProductRepository, logger *zap.Logger) *CartService {
	return &CartService{carts: carts, products: products, logger: logger}
}

func (s *CartService) GetCart(ctx context.Context, userID uuid.UUID) (*CartView, *ServiceError) {
	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to load cart")
	}
	return s.buildView(cart), nil
}

// AddItem merges with any existing line for the product. The stock check here
// is a soft check against the current read view; the hard check happens again
// at order build time.
func (s *CartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, *ServiceError) {
	if quantity < 1 {
		return nil, newError(http.StatusBadRequest, "Quantity must be at least 1")
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(http.StatusNotFound, "Product not found")
		}
		s.logger.Error("Failed to load product", zap.String("product_id", productID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to load product")
	}

	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to load cart")
	}

	merged := quantity
	for _, item := range cart.Items {
		if item.ProductID == productID {
			merged += item.Quantity
			break
		}
	}
	if merged > product.Stock {
		return nil, newError(http.StatusBadRequest, "Cannot exceed available stock for %s", product.Name)
	}

	if err := s.carts.AddItem(ctx, cart.ID, productID, quantity); err != nil {
		s.logger.Error("Failed to add cart item",
			zap.String("cart_id", cart.ID.String()),
			zap.String("product_id", productID.String()),
			zap.Error(err),
		)
		return nil, newError(http.StatusInternalServerError, "Failed to add item to cart")
	}

	return s.GetCart(ctx, userID)
}

// SetItemQuantity updates a line's quantity; zero or negative removes it.
func (s *CartService) SetItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*CartView, *ServiceError) {
	item, svcErr := s.ownedItem(ctx, userID, itemID)
	if svcErr != nil {
		return nil, svcErr
	}

	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, itemID)
	}

	product, err := s.products.FindByID(ctx, item.ProductID)
	if err != nil {
		s.logger.Error("Failed to load product", zap.String("product_id", item.ProductID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to load product")
	}
	if quantity > product.Stock {
		return nil, newError(http.StatusBadRequest, "Cannot exceed available stock for %s", product.Name)
	}

	if err := s.carts.UpdateItemQuantity(ctx, itemID, quantity); err != nil {
		s.logger.Error("Failed to update cart item", zap.String("item_id", itemID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to update cart item")
	}

	return s.GetCart(ctx, userID)
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*CartView, *ServiceError) {
	if _, svcErr := s.ownedItem(ctx, userID, itemID); svcErr != nil {
		return nil, svcErr
	}
	if err := s.carts.RemoveItem(ctx, itemID); err != nil {
		s.logger.Error("Failed to remove cart item", zap.String("item_id", itemID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to remove cart item")
	}
	return s.GetCart(ctx, userID)
}

// ownedItem loads a cart item and verifies it belongs to the caller's cart.
// A line in someone else's cart answers 404, same as a line that does not
// exist, so item ids leak nothing.
func (s *CartService) ownedItem(ctx context.Context, userID, itemID uuid.UUID) (*models.CartItem, *ServiceError) {
	item, err := s.carts.FindItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(http.StatusNotFound, "Cart item not found")
		}
		s.logger.Error("Failed to load cart item", zap.String("item_id", itemID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to load cart item")
	}

	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "Failed to load cart")
	}
	if item.CartID != cart.ID {
		return nil, newError(http.StatusNotFound, "Cart item not found")
	}
	return item, nil
}

func (s *CartService) ClearCart(ctx context.Context, userID uuid.UUID) *ServiceError {
	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID.String()), zap.Error(err))
		return newError(http.StatusInternalServerError, "Failed to load cart")
	}
	if err := s.carts.Clear(ctx, cart.ID); err != nil {
		s.logger.Error("Failed to clear cart", zap.String("cart_id", cart.ID.String()), zap.Error(err))
		return newError(http.StatusInternalServerError, "Failed to clear cart")
	}
	return nil
}

func (s *CartService) buildView(cart *models.Cart) *CartView {
	subtotal := decimal.Zero
	count := 0
	for _, item := range cart.Items {
		if item.Product != nil {
			subtotal = subtotal.Add(item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		count += item.Quantity
	}
	return &CartView{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Items:     cart.Items,
		Subtotal:  subtotal,
		ItemCount: count,
	}
}
