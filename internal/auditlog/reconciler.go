package auditlog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/repository"
)

// Reconciler periodically drains the dirty user set, copying cached token
// counters back to the durable quota store. It is the sole writer of quota
// usage to the durable store outside of initial hydration, which keeps the
// sweep from racing live requests.
type Reconciler struct {
	cache    repository.QuotaCache
	repo     repository.QuotaRepository
	interval time.Duration
	logger   *zap.Logger
}

// NewReconciler creates a new quota reconciler.
func NewReconciler(cache repository.QuotaCache, repo repository.QuotaRepository, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		cache:    cache,
		repo:     repo,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on the periodic timer until the context is cancelled, then
// performs a final sweep.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.ReconcileOnce(context.Background()); err != nil {
				r.logger.Error("Final quota reconcile failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("Quota reconcile failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce drains the dirty set and bulk-upserts the cached counters.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	users, err := r.cache.DirtyUsers(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: drain dirty set: %w", err)
	}
	if len(users) == 0 {
		return nil
	}

	usages := make(map[string]int64, len(users))
	for _, userID := range users {
		entry, err := r.cache.Get(ctx, userID)
		if err != nil {
			r.logger.Warn("Reconcile: cached quota read failed",
				zap.Error(err), zap.String("user_id", userID))
			continue
		}
		if entry == nil {
			// Cache expired between the decrement and the sweep; the
			// durable row is already the best copy available.
			continue
		}
		usages[userID] = entry.TokenUsed
	}

	if err := r.repo.UpsertUsage(ctx, usages); err != nil {
		return fmt.Errorf("reconcile: upsert usage: %w", err)
	}

	r.logger.Info("Quota counters reconciled", zap.Int("users", len(usages)))
	return nil
}
