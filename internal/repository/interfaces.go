package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-run/conduit/internal/domain"
)

// LedgerRepository is the durable, cursor-paginated record of submissions
// and outcomes. Implementations must be safe for concurrent use.
type LedgerRepository interface {
	// Upsert writes a result record keyed by job ID. Re-writing an existing
	// job ID is a no-op, which makes result ingestion idempotent under
	// at-least-once queue delivery.
	Upsert(ctx context.Context, rec *domain.ResultRecord) error

	// List returns one page of a user's records in strictly decreasing
	// (CreatedAt, TieBreak) order. A nil cursor starts from the newest
	// record. Limit+1 rows are fetched internally so NextCursor is exact.
	List(ctx context.Context, userID string, cursor *domain.Cursor, limit int) (*domain.LedgerPage, error)
}

// QuotaRepository is the durable side of the token ledger. It is written
// only by initial hydration and the reconciliation sweep.
type QuotaRepository interface {
	// Get fetches a user's quota row. Returns domain.ErrQuotaNotFound when
	// the user has none.
	Get(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error)

	// Create provisions a fresh quota row for a first-time user.
	Create(ctx context.Context, entry *domain.TokenLedgerEntry) error

	// UpsertUsage bulk-writes reconciled cached counters back to the
	// durable store.
	UpsertUsage(ctx context.Context, usages map[string]int64) error
}

// AuditRepository persists batched metering events.
type AuditRepository interface {
	// InsertBatch bulk-inserts a flushed buffer of audit events.
	InsertBatch(ctx context.Context, events []domain.AuditEvent) error
}

// IdempotencyStore is the request-scoped duplicate-suppression lock.
type IdempotencyStore interface {
	// Acquire atomically creates an in-progress lock for (userID, key).
	// When the key is already held, acquired is false and current carries
	// the existing record.
	Acquire(ctx context.Context, userID, key string) (acquired bool, current *domain.IdempotencyRecord, err error)

	// Complete transitions the lock to completed with a fresh TTL so a
	// short-window retry receives the cached outcome pointer.
	Complete(ctx context.Context, userID, key, jobID string) error

	// Release drops the lock. Used only to compensate a publish failure so
	// the caller can retry immediately.
	Release(ctx context.Context, userID, key string) error
}

// QuotaCache is the cached token ledger hash. It is the sole point of truth
// for admission between reconciliations; every mutation goes through atomic
// increments on the shared store, never read-modify-write.
type QuotaCache interface {
	// Get reads the cached ledger for a user. Returns (nil, nil) on a miss.
	Get(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error)

	// Put populates the cache from a durable row with the given TTL.
	Put(ctx context.Context, entry *domain.TokenLedgerEntry, ttl time.Duration) error

	// IncrUsed atomically adds delta to the cached token_used counter and
	// marks the user dirty. Returns the counter after the increment.
	IncrUsed(ctx context.Context, userID string, delta int64) (int64, error)

	// DirtyUsers drains the set of users whose cached counters have
	// diverged from the durable store.
	DirtyUsers(ctx context.Context) ([]string, error)
}

// Sequencer assigns tie-break integers for same-millisecond ledger writes.
type Sequencer interface {
	// NextTie atomically increments the counter scoped to
	// (userID, createdAt at millisecond resolution). The first value is 1.
	NextTie(ctx context.Context, userID string, createdAtMillis int64) (int64, error)
}

// PendingStore holds short-lived markers and buffers around in-flight jobs.
type PendingStore interface {
	// SetPending writes the crash-recovery correlation marker for an
	// enqueued job.
	SetPending(ctx context.Context, job *domain.PendingJob) error

	// GetPending reads a pending marker. Returns (nil, nil) when expired
	// or absent.
	GetPending(ctx context.Context, jobID uuid.UUID) (*domain.PendingJob, error)

	// InvalidateSummary drops the cached submission summary for a
	// user+problem; a new all-cases run supersedes it.
	InvalidateSummary(ctx context.Context, userID, problemID string) error

	// BufferCase stores one per-case result of an all-cases stream, keyed
	// by case number so replays and out-of-order arrival are harmless.
	BufferCase(ctx context.Context, jobID uuid.UUID, msg *domain.ResultMessage) error

	// CollectCases returns all buffered cases for a job sorted by case
	// number, plus the advertised total.
	CollectCases(ctx context.Context, jobID uuid.UUID) ([]domain.TestCaseResult, int, error)
}
