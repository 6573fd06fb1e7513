package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	mockrepo "github.com/conduit-run/conduit/internal/repository/mock"
)

const cycleLengthForTest = 720 * time.Hour

// seedQuota places a live (non-expired) ledger entry directly in the cache.
func seedQuota(t *testing.T, cache *mockrepo.MockQuotaCache, userID string, used, limit int64) {
	t.Helper()
	now := time.Now().UTC()
	err := cache.Put(context.Background(), &domain.TokenLedgerEntry{
		UserID:        userID,
		MonthlyLimit:  limit,
		TokenUsed:     used,
		CycleStartsAt: now.Add(-time.Hour),
		CycleEndsAt:   now.Add(cycleLengthForTest),
	}, cycleLengthForTest)
	if err != nil {
		t.Fatalf("seed quota: %v", err)
	}
}

func newMeter() (*QuotaMeter, *mockrepo.MockQuotaCache, *mockrepo.MockQuotaRepository) {
	cache := mockrepo.NewMockQuotaCache()
	repo := mockrepo.NewMockQuotaRepository()
	meter := NewQuotaMeter(cache, repo, 30000, cycleLengthForTest, zap.NewNop())
	return meter, cache, repo
}

func TestQuotaMeter_ReserveNearLimit(t *testing.T) {
	meter, cache, _ := newMeter()
	seedQuota(t, cache, "user-1", 29990, 30000)
	ctx := context.Background()

	state, err := meter.CheckAndReserve(ctx, "user-1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.TokenUsed != 29995 {
		t.Errorf("expected usage 29995, got %d", state.TokenUsed)
	}

	_, err = meter.CheckAndReserve(ctx, "user-1", 20)
	var quota *domain.QuotaExceededError
	if !errors.As(err, &quota) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if quota.TokenUsed != 29995 || quota.MonthlyLimit != 30000 {
		t.Errorf("unexpected refusal snapshot: %+v", quota)
	}

	// Refusal mutates nothing
	entry, _ := cache.Get(ctx, "user-1")
	if entry.TokenUsed != 29995 {
		t.Errorf("expected usage unchanged at 29995, got %d", entry.TokenUsed)
	}

	// Landing exactly on the limit is still admitted
	state, err = meter.CheckAndReserve(ctx, "user-1", 5)
	if err != nil {
		t.Fatalf("expected reservation to the exact limit, got %v", err)
	}
	if state.TokenUsed != 30000 {
		t.Errorf("expected usage 30000, got %d", state.TokenUsed)
	}
}

func TestQuotaMeter_Refund(t *testing.T) {
	meter, cache, _ := newMeter()
	seedQuota(t, cache, "user-1", 100, 30000)
	ctx := context.Background()

	if _, err := meter.CheckAndReserve(ctx, "user-1", 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := meter.Refund(ctx, "user-1", 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, _ := cache.Get(ctx, "user-1")
	if entry.TokenUsed != 100 {
		t.Errorf("expected usage back at 100, got %d", entry.TokenUsed)
	}
}

func TestQuotaMeter_HydratesFromDurableStore(t *testing.T) {
	meter, cache, repo := newMeter()
	ctx := context.Background()

	now := time.Now().UTC()
	if err := repo.Create(ctx, &domain.TokenLedgerEntry{
		UserID:        "user-1",
		MonthlyLimit:  50000,
		TokenUsed:     1234,
		CycleStartsAt: now.Add(-time.Hour),
		CycleEndsAt:   now.Add(cycleLengthForTest),
	}); err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	state, err := meter.State(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.MonthlyLimit != 50000 || state.TokenUsed != 1234 {
		t.Errorf("unexpected hydrated state: %+v", state)
	}

	// Cache is populated on the way out
	entry, _ := cache.Get(ctx, "user-1")
	if entry == nil || entry.TokenUsed != 1234 {
		t.Errorf("expected cache populated with usage 1234, got %+v", entry)
	}
}

func TestQuotaMeter_ProvisionsFirstTimeUser(t *testing.T) {
	meter, _, repo := newMeter()
	ctx := context.Background()

	state, err := meter.State(ctx, "new-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.MonthlyLimit != 30000 || state.TokenUsed != 0 {
		t.Errorf("expected default budget 30000/0, got %+v", state)
	}

	// The durable row exists now
	entry, err := repo.Get(ctx, "new-user")
	if err != nil {
		t.Fatalf("expected provisioned durable row: %v", err)
	}
	if entry.MonthlyLimit != 30000 {
		t.Errorf("expected durable limit 30000, got %d", entry.MonthlyLimit)
	}
}

func TestQuotaMeter_LazyCycleReset(t *testing.T) {
	meter, cache, repo := newMeter()
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(cycleLengthForTest)
	entry := &domain.TokenLedgerEntry{
		UserID:        "user-1",
		MonthlyLimit:  30000,
		TokenUsed:     12000,
		CycleStartsAt: start,
		CycleEndsAt:   end,
	}
	if err := cache.Put(ctx, entry, cycleLengthForTest); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	// First touch after the cycle lapses resets the counter and advances
	// the window by exactly one cycle.
	meter.now = func() time.Time { return end.Add(time.Hour) }
	state, err := meter.State(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.TokenUsed != 0 {
		t.Errorf("expected usage reset to 0, got %d", state.TokenUsed)
	}
	if !state.CycleEndsAt.Equal(end.Add(cycleLengthForTest)) {
		t.Errorf("expected cycle end %v, got %v", end.Add(cycleLengthForTest), state.CycleEndsAt)
	}

	// The reset is cache-only; the user is marked dirty so the
	// reconciliation sweep carries it to the durable store later.
	if !cache.Dirty("user-1") {
		t.Error("expected user marked dirty after lazy reset")
	}
	if repo.Usage("user-1") != 12000 {
		t.Errorf("expected durable usage untouched at 12000, got %d", repo.Usage("user-1"))
	}
}
