package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

// Ensure pgLedgerRepo implements repository.LedgerRepository.
var _ repository.LedgerRepository = (*pgLedgerRepo)(nil)

type pgLedgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new PostgreSQL-backed execution ledger.
func NewLedgerRepository(pool *pgxpool.Pool) repository.LedgerRepository {
	return &pgLedgerRepo{pool: pool}
}

// Upsert inserts a result record. ON CONFLICT DO NOTHING keeps ingestion
// idempotent: the broker is at-least-once, so the same result message may
// be delivered more than once.
func (r *pgLedgerRepo) Upsert(ctx context.Context, rec *domain.ResultRecord) error {
	var cases []byte
	if len(rec.TestCases) > 0 {
		var err error
		cases, err = json.Marshal(rec.TestCases)
		if err != nil {
			return fmt.Errorf("postgres: marshal test cases: %w", err)
		}
	}

	query := `
		INSERT INTO result_records (job_id, user_id, kind, language, status, output, reason,
		                            duration_sec, test_cases, created_at, tie_break)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		rec.JobID, rec.UserID, rec.Kind, rec.Language, rec.Status, rec.Output, rec.Reason,
		rec.DurationSec, cases, rec.CreatedAt, rec.TieBreak,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert result record: %w", err)
	}
	return nil
}

// List pages reverse-chronologically with a (created_at, tie_break) keyset
// cursor. One extra row is fetched and trimmed so the has-more signal is
// exact rather than inferred from a full page.
func (r *pgLedgerRepo) List(ctx context.Context, userID string, cursor *domain.Cursor, limit int) (*domain.LedgerPage, error) {
	query := `
		SELECT job_id, user_id, kind, language, status, output, reason,
		       duration_sec, test_cases, created_at, tie_break
		FROM result_records
		WHERE user_id = $1`
	args := []interface{}{userID}

	if cursor != nil {
		query += `
		  AND (created_at < $2 OR (created_at = $2 AND tie_break < $3))`
		args = append(args, cursor.CreatedAt, cursor.TieBreak)
	}
	query += fmt.Sprintf(`
		ORDER BY created_at DESC, tie_break DESC
		LIMIT %d`, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list result records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ResultRecord, 0, limit+1)
	for rows.Next() {
		var rec domain.ResultRecord
		var cases []byte
		err := rows.Scan(
			&rec.JobID, &rec.UserID, &rec.Kind, &rec.Language, &rec.Status,
			&rec.Output, &rec.Reason, &rec.DurationSec, &cases,
			&rec.CreatedAt, &rec.TieBreak,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan result record: %w", err)
		}
		if len(cases) > 0 {
			if err := json.Unmarshal(cases, &rec.TestCases); err != nil {
				return nil, fmt.Errorf("postgres: decode test cases: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate result records: %w", err)
	}

	page := &domain.LedgerPage{}
	if len(records) > limit {
		records = records[:limit]
		last := records[len(records)-1]
		page.NextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, TieBreak: last.TieBreak}
	}
	page.Records = records
	return page, nil
}
