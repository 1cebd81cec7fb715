package worker

import (
	"context"
	"time"

	"storefront/repository"

	"go.uber.org/zap"
)

// ReconciliationWorker sweeps orders whose checkout session expired without a
// payment outcome. Their reserved stock must not be held forever, so stale
// pending orders are cancelled and their units released. The cancel is a
// guarded conditional update: a webhook landing mid-sweep wins the order and
// the sweep backs off.
type ReconciliationWorker struct {
	orders       repository.OrderRepository
	products     repository.ProductRepository
	interval     time.Duration
	abandonAfter time.Duration
	logger       *zap.Logger
}

func NewReconciliationWorker(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	interval, abandonAfter time.Duration,
	logger *zap.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orders:       orders,
		products:     products,
		interval:     interval,
		abandonAfter: abandonAfter,
		logger:       logger,
	}
}

func (w *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Reconciliation worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("abandon_after", w.abandonAfter),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep cancels abandoned pending orders and releases their stock.
func (w *ReconciliationWorker) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-w.abandonAfter)
	stale, err := w.orders.FindAbandoned(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	w.logger.Info("Found abandoned orders", zap.Int("count", len(stale)))

	for _, order := range stale {
		cancelled, err := w.orders.CancelIfPendingUnpaid(ctx, order.ID)
		if err != nil {
			w.logger.Error("Failed to cancel abandoned order",
				zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		if !cancelled {
			// A payment event got here first.
			continue
		}

		for _, item := range order.Items {
			if err := w.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
				w.logger.Error("Failed to release stock for abandoned order",
					zap.String("order_id", order.ID.String()),
					zap.String("product_id", item.ProductID.String()),
					zap.Error(err),
				)
			}
		}

		w.logger.Info("Abandoned order cancelled and stock released",
			zap.String("order_id", order.ID.String()))
	}
	return nil
}
