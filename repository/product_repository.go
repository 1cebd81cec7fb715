package repository

import (
	"context"
	"errors"

	"storefront/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ProductRepository is the catalog read view plus the stock ledger. Reserve
// and Release are the only mutation paths for Product.stock; callers never
// read-modify-write stock themselves.
type ProductRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindAll(ctx context.Context, page, limit int) ([]models.Product, int64, error)
	Reserve(ctx context.Context, productID uuid.UUID, quantity int) error
	Release(ctx context.Context, productID uuid.UUID, quantity int) error
}

type gormProductRepo struct {
	db *gorm.DB
}

func NewGormProductRepo(db *gorm.DB) ProductRepository {
	return &gormProductRepo{db: db}
}

func (r *gormProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *gormProductRepo) FindAll(ctx context.Context, page, limit int) ([]models.Product, int64, error) {
	var products []models.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Product{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&products).Error; err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

// Reserve atomically decrements stock by quantity, succeeding only when the
// current stock covers it. The guard lives in the WHERE clause so two
// concurrent reservations can never both win the same units.
func (r *gormProductRepo) Reserve(ctx context.Context, productID uuid.UUID, quantity int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).Model(&models.Product{}).
			Where("id = ?", productID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrInsufficientStock
	}
	return nil
}

// Release atomically restores previously reserved units. No upper bound
// check: it only ever undoes a prior Reserve.
func (r *gormProductRepo) Release(ctx context.Context, productID uuid.UUID, quantity int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock + ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
