package domain

import "time"

// TokenLedgerEntry is the per-user monthly compute-token budget. The cached
// copy in Redis is the point of truth between reconciliations; the durable
// row is updated only by the reconciliation sweep and initial hydration.
type TokenLedgerEntry struct {
	UserID        string    `json:"user_id"`
	MonthlyLimit  int64     `json:"monthly_limit"`
	TokenUsed     int64     `json:"token_used"`
	CycleStartsAt time.Time `json:"cycle_starts_at"`
	CycleEndsAt   time.Time `json:"cycle_ends_at"`
}

// Expired reports whether the billing cycle has lapsed at the given instant.
// A lapsed cycle is reset lazily on the next admission check.
func (e *TokenLedgerEntry) Expired(now time.Time) bool {
	return now.After(e.CycleEndsAt)
}

// QuotaState is the usage snapshot returned by a successful reservation and
// by the quota query endpoint.
type QuotaState struct {
	MonthlyLimit int64     `json:"monthly_limit"`
	TokenUsed    int64     `json:"token_used"`
	CycleEndsAt  time.Time `json:"cycle_ends_at"`
}

// IdempotencyStatus is the lifecycle state of a request-scoped lock.
type IdempotencyStatus string

const (
	IdemInProgress IdempotencyStatus = "in_progress"
	IdemCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord is the duplicate-suppression lock for one
// (userID, idempotencyKey) pair. It is never deleted explicitly outside of
// publish-failure compensation; it only times out.
type IdempotencyRecord struct {
	Status IdempotencyStatus `json:"status"`
	JobID  string            `json:"job_id,omitempty"`
}

// AuditEvent is one metering entry buffered by the batch log sink.
type AuditEvent struct {
	UserID         string    `json:"user_id"`
	TokensConsumed int64     `json:"tokens_consumed"`
	Endpoint       string    `json:"endpoint"`
	CreatedAt      time.Time `json:"created_at"`
}
