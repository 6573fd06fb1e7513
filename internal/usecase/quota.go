package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

// QuotaMeter gates admission against the per-user monthly token budget.
// Decisions read and write only the cache; the durable store is touched for
// hydration and first-time provisioning, and is otherwise updated solely by
// the reconciliation sweep.
type QuotaMeter struct {
	cache        repository.QuotaCache
	repo         repository.QuotaRepository
	defaultLimit int64
	cycleLength  time.Duration
	logger       *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewQuotaMeter creates a new QuotaMeter.
func NewQuotaMeter(cache repository.QuotaCache, repo repository.QuotaRepository, defaultLimit int64, cycleLength time.Duration, logger *zap.Logger) *QuotaMeter {
	return &QuotaMeter{
		cache:        cache,
		repo:         repo,
		defaultLimit: defaultLimit,
		cycleLength:  cycleLength,
		logger:       logger,
		now:          time.Now,
	}
}

// CheckAndReserve admits a payload costing the given number of tokens.
// On refusal nothing is mutated; on success the cached counter is
// incremented atomically and the user is marked dirty for reconciliation.
func (m *QuotaMeter) CheckAndReserve(ctx context.Context, userID string, cost int64) (*domain.QuotaState, error) {
	entry, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if entry.TokenUsed+cost > entry.MonthlyLimit {
		return nil, &domain.QuotaExceededError{
			TokenUsed:    entry.TokenUsed,
			MonthlyLimit: entry.MonthlyLimit,
		}
	}

	after, err := m.cache.IncrUsed(ctx, userID, cost)
	if err != nil {
		return nil, fmt.Errorf("reserve tokens: %w", err)
	}

	return &domain.QuotaState{
		MonthlyLimit: entry.MonthlyLimit,
		TokenUsed:    after,
		CycleEndsAt:  entry.CycleEndsAt,
	}, nil
}

// Refund rolls a reservation back after a downstream failure, so the user
// is never left charged for a job that was not enqueued.
func (m *QuotaMeter) Refund(ctx context.Context, userID string, cost int64) error {
	if _, err := m.cache.IncrUsed(ctx, userID, -cost); err != nil {
		return fmt.Errorf("refund tokens: %w", err)
	}
	return nil
}

// State returns the current usage snapshot, cache-first.
func (m *QuotaMeter) State(ctx context.Context, userID string) (*domain.QuotaState, error) {
	entry, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.QuotaState{
		MonthlyLimit: entry.MonthlyLimit,
		TokenUsed:    entry.TokenUsed,
		CycleEndsAt:  entry.CycleEndsAt,
	}, nil
}

// load returns the cached ledger entry, hydrating from the durable store on
// a miss and applying the lazy cycle reset.
func (m *QuotaMeter) load(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error) {
	entry, err := m.cache.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read quota cache: %w", err)
	}

	if entry == nil {
		entry, err = m.hydrate(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	if entry.Expired(now) {
		// Lazy reset: zero the counter and advance the window one cycle.
		// Only the cache is rewritten here; marking the user dirty lets the
		// reconciliation sweep carry the reset to the durable store.
		entry.TokenUsed = 0
		entry.CycleStartsAt = entry.CycleEndsAt
		entry.CycleEndsAt = entry.CycleEndsAt.Add(m.cycleLength)
		if err := m.cache.Put(ctx, entry, m.cycleLength); err != nil {
			return nil, fmt.Errorf("reset quota cycle: %w", err)
		}
		if _, err := m.cache.IncrUsed(ctx, userID, 0); err != nil {
			return nil, fmt.Errorf("mark quota dirty: %w", err)
		}
		m.logger.Info("Quota cycle reset",
			zap.String("user_id", userID),
			zap.Time("cycle_ends_at", entry.CycleEndsAt),
		)
	}

	return entry, nil
}

func (m *QuotaMeter) hydrate(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error) {
	entry, err := m.repo.Get(ctx, userID)
	if errors.Is(err, domain.ErrQuotaNotFound) {
		// First-time user: provision the default budget.
		now := m.now().UTC()
		entry = &domain.TokenLedgerEntry{
			UserID:        userID,
			MonthlyLimit:  m.defaultLimit,
			TokenUsed:     0,
			CycleStartsAt: now,
			CycleEndsAt:   now.Add(m.cycleLength),
		}
		if err := m.repo.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("provision quota: %w", err)
		}
		m.logger.Info("Provisioned default token quota",
			zap.String("user_id", userID),
			zap.Int64("monthly_limit", m.defaultLimit),
		)
	} else if err != nil {
		return nil, fmt.Errorf("hydrate quota: %w", err)
	}

	if err := m.cache.Put(ctx, entry, m.cycleLength); err != nil {
		return nil, fmt.Errorf("populate quota cache: %w", err)
	}
	return entry, nil
}
