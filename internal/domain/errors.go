package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCode is returned when the submitted code is empty.
	ErrEmptyCode = errors.New("code cannot be empty")

	// ErrInvalidLanguage is returned when an unsupported language is submitted.
	ErrInvalidLanguage = errors.New("invalid or unsupported language")

	// ErrInvalidKind is returned when the execution kind is not recognized.
	ErrInvalidKind = errors.New("invalid execution kind")

	// ErrMissingIdempotencyKey is returned when a write-side submission
	// arrives without an Idempotency-Key header.
	ErrMissingIdempotencyKey = errors.New("missing idempotency key")

	// ErrMissingClientID is returned when no client connection id accompanies
	// a submission.
	ErrMissingClientID = errors.New("missing client connection id")

	// ErrPayloadTooLarge is returned when the code exceeds the size limit.
	ErrPayloadTooLarge = errors.New("code payload exceeds maximum size (1MB)")

	// ErrPublishFailed is returned when the message broker publish fails.
	// It is retryable: the quota reservation and idempotency lock are
	// rolled back before it is surfaced.
	ErrPublishFailed = errors.New("failed to publish job to message queue")

	// ErrQuotaNotFound is returned when no quota ledger exists for a user
	// and one could not be provisioned.
	ErrQuotaNotFound = errors.New("token quota not found for user")

	// ErrUnprocessableResult is returned when a result message parses as
	// JSON but fails domain validation. The failure is deterministic, so
	// redelivery can never succeed; the consumer dead-letters it instead
	// of requeueing.
	ErrUnprocessableResult = errors.New("unprocessable result message")

	// ErrRecordNotFound is returned when a ledger record cannot be found.
	ErrRecordNotFound = errors.New("ledger record not found")
)

// DuplicateError reports an idempotency conflict. It is a distinct outcome,
// not a failure: it carries the current lock record so the caller can point
// the client at the in-flight or completed request.
type DuplicateError struct {
	Record IdempotencyRecord
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate request: %s", e.Record.Status)
}

// QuotaExceededError is an admission refusal carrying the usage snapshot at
// decision time. No counters are mutated when it is returned.
type QuotaExceededError struct {
	TokenUsed    int64
	MonthlyLimit int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("token quota exceeded: used %d of %d", e.TokenUsed, e.MonthlyLimit)
}
