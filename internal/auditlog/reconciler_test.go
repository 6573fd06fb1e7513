package auditlog

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	mockrepo "github.com/conduit-run/conduit/internal/repository/mock"
)

func seedLedgerEntry(t *testing.T, cache *mockrepo.MockQuotaCache, repo *mockrepo.MockQuotaRepository, userID string, used int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	entry := &domain.TokenLedgerEntry{
		UserID:        userID,
		MonthlyLimit:  30000,
		TokenUsed:     used,
		CycleStartsAt: now,
		CycleEndsAt:   now.Add(720 * time.Hour),
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("seed repo: %v", err)
	}
	if err := cache.Put(ctx, entry, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

func TestReconciler_WritesDirtyCountersBack(t *testing.T) {
	cache := mockrepo.NewMockQuotaCache()
	repo := mockrepo.NewMockQuotaRepository()
	rec := NewReconciler(cache, repo, time.Hour, zap.NewNop())
	ctx := context.Background()

	seedLedgerEntry(t, cache, repo, "u1", 100)
	seedLedgerEntry(t, cache, repo, "u2", 200)
	seedLedgerEntry(t, cache, repo, "u3", 300)

	// u1 and u2 take reservations; u3 stays clean
	if _, err := cache.IncrUsed(ctx, "u1", 50); err != nil {
		t.Fatalf("incr u1: %v", err)
	}
	if _, err := cache.IncrUsed(ctx, "u2", 25); err != nil {
		t.Fatalf("incr u2: %v", err)
	}

	if err := rec.ReconcileOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := repo.Usage("u1"); got != 150 {
		t.Errorf("expected u1 durable usage 150, got %d", got)
	}
	if got := repo.Usage("u2"); got != 225 {
		t.Errorf("expected u2 durable usage 225, got %d", got)
	}
	if got := repo.Usage("u3"); got != 300 {
		t.Errorf("expected u3 durable usage untouched at 300, got %d", got)
	}

	// The drain cleared the dirty set; a second sweep writes nothing
	upserts := 0
	repo.UpsertUsageFunc = func(ctx context.Context, usages map[string]int64) error {
		upserts++
		return nil
	}
	if err := rec.ReconcileOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upserts != 0 {
		t.Errorf("expected no upsert on a clean sweep, got %d", upserts)
	}
}

func TestReconciler_SkipsEvictedCacheEntries(t *testing.T) {
	cache := mockrepo.NewMockQuotaCache()
	repo := mockrepo.NewMockQuotaRepository()
	rec := NewReconciler(cache, repo, time.Hour, zap.NewNop())
	ctx := context.Background()

	seedLedgerEntry(t, cache, repo, "u1", 100)
	if _, err := cache.IncrUsed(ctx, "u1", 50); err != nil {
		t.Fatalf("incr u1: %v", err)
	}

	// The cached entry expires between the reservation and the sweep; the
	// durable row must not be clobbered with a guess.
	cache.GetFunc = func(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error) {
		return nil, nil
	}

	if err := rec.ReconcileOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.Usage("u1"); got != 100 {
		t.Errorf("expected durable usage untouched at 100, got %d", got)
	}
}
