package repository

import (
	"context"
	"errors"

	"storefront/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartRepository persists carts and their items. AddItem must be an atomic
// merge-or-insert so rapid duplicate adds for the same product cannot lose
// updates.
type CartRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error)
	AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	RemoveItem(ctx context.Context, itemID uuid.UUID) error
	Clear(ctx context.Context, cartID uuid.UUID) error
}

type gormCartRepo struct {
	db *gorm.DB
}

func NewGormCartRepo(db *gorm.DB) CartRepository {
	return &gormCartRepo{db: db}
}

// GetOrCreate returns the user's cart with items and product rows preloaded,
// creating an empty cart on first access.
func (r *gormCartRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("cart_items.created_at DESC")
		}).
		Preload("Items.Product").
		Where("user_id = ?", userID).
		First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cart = models.Cart{UserID: userID}
	if err := r.db.WithContext(ctx).Create(&cart).Error; err != nil {
		return nil, err
	}
	cart.Items = []models.CartItem{}
	return &cart, nil
}

func (r *gormCartRepo) FindItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).
		Preload("Product").
		First(&item, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// AddItem merges with an existing line for the same product by summing
// quantities. The upsert is a single statement so concurrent adds converge to
// the correct sum.
func (r *gormCartRepo) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	item := models.CartItem{
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity": gorm.Expr("cart_items.quantity + excluded.quantity"),
		}),
	}).Create(&item).Error
}

func (r *gormCartRepo) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	res := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormCartRepo) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.CartItem{}, "id = ?", itemID).Error
}

func (r *gormCartRepo) Clear(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.CartItem{}, "cart_id = ?", cartID).Error
}
