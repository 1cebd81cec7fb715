package repository

import (
	"context"
	"errors"
	"time"

	"storefront/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderRepository persists orders and their line items. Order+items creation
// is atomic; status updates that race with webhook delivery go through the
// guarded variants so only one writer wins a transition.
type OrderRepository interface {
	CreateWithItems(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDAndUserID(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	UpdateFields(ctx context.Context, orderID uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsIfPayment applies updates only while the order still has the
	// expected payment status; reports whether this caller won the transition.
	UpdateFieldsIfPayment(ctx context.Context, orderID uuid.UUID, current models.PaymentStatus, updates map[string]interface{}) (bool, error)
	DeleteWithItems(ctx context.Context, orderID uuid.UUID) error
	FindAbandoned(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	// CancelIfPendingUnpaid cancels an order only if it is still
	// pending/pending; reports whether the cancellation was applied.
	CancelIfPendingUnpaid(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type gormOrderRepo struct {
	db *gorm.DB
}

func NewGormOrderRepo(db *gorm.DB) OrderRepository {
	return &gormOrderRepo{db: db}
}

// CreateWithItems inserts the order row and all its items in one transaction;
// either both are visible or neither is.
func (r *gormOrderRepo) CreateWithItems(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *gormOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) FindByIDAndUserID(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND user_id = ?", id, userID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Preload("Items").
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *gormOrderRepo) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) UpdateFields(ctx context.Context, orderID uuid.UUID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormOrderRepo) UpdateFieldsIfPayment(ctx context.Context, orderID uuid.UUID, current models.PaymentStatus, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, current).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteWithItems hard-deletes an order and its items. Only the order builder
// rollback path uses this, for orders whose reservation failed.
func (r *gormOrderRepo) DeleteWithItems(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&models.OrderItem{}, "order_id = ?", orderID).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Order{}, "id = ?", orderID).Error
	})
}

func (r *gormOrderRepo) FindAbandoned(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND payment_status = ? AND updated_at < ?",
			models.OrderStatusPending, models.PaymentStatusPending, cutoff).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *gormOrderRepo) CancelIfPendingUnpaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND payment_status = ?",
			orderID, models.OrderStatusPending, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusCancelled,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
