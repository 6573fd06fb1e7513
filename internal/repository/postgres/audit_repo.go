package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

// Ensure pgAuditRepo implements repository.AuditRepository.
var _ repository.AuditRepository = (*pgAuditRepo)(nil)

type pgAuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new PostgreSQL-backed audit event store.
func NewAuditRepository(pool *pgxpool.Pool) repository.AuditRepository {
	return &pgAuditRepo{pool: pool}
}

// InsertBatch bulk-loads a flushed buffer with COPY, which is one round
// trip regardless of batch size.
func (r *pgAuditRepo) InsertBatch(ctx context.Context, events []domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{e.UserID, e.TokensConsumed, e.Endpoint, e.CreatedAt})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"token_logs"},
		[]string{"user_id", "tokens_consumed", "endpoint", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres: bulk insert audit events: %w", err)
	}
	return nil
}
