package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

// Ensure pgQuotaRepo implements repository.QuotaRepository.
var _ repository.QuotaRepository = (*pgQuotaRepo)(nil)

type pgQuotaRepo struct {
	pool *pgxpool.Pool
}

// NewQuotaRepository creates a new PostgreSQL-backed durable quota store.
func NewQuotaRepository(pool *pgxpool.Pool) repository.QuotaRepository {
	return &pgQuotaRepo{pool: pool}
}

func (r *pgQuotaRepo) Get(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error) {
	query := `
		SELECT user_id, monthly_limit, token_used, cycle_starts_at, cycle_ends_at
		FROM token_quotas
		WHERE user_id = $1`

	entry := &domain.TokenLedgerEntry{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&entry.UserID, &entry.MonthlyLimit, &entry.TokenUsed,
		&entry.CycleStartsAt, &entry.CycleEndsAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuotaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get token quota: %w", err)
	}
	return entry, nil
}

func (r *pgQuotaRepo) Create(ctx context.Context, entry *domain.TokenLedgerEntry) error {
	query := `
		INSERT INTO token_quotas (user_id, monthly_limit, token_used, cycle_starts_at, cycle_ends_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		entry.UserID, entry.MonthlyLimit, entry.TokenUsed,
		entry.CycleStartsAt, entry.CycleEndsAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create token quota: %w", err)
	}
	return nil
}

// UpsertUsage writes reconciled counters back in one batch. The sweep is
// the only writer of token_used outside hydration, so a plain overwrite
// cannot race a live request.
func (r *pgQuotaRepo) UpsertUsage(ctx context.Context, usages map[string]int64) error {
	if len(usages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		UPDATE token_quotas
		SET token_used = $1, updated_at = $2
		WHERE user_id = $3`
	now := time.Now().UTC()
	for userID, used := range usages {
		batch.Queue(query, used, now, userID)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range usages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: reconcile token usage: %w", err)
		}
	}
	return nil
}
