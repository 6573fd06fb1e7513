package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/metrics"
	"github.com/conduit-run/conduit/internal/publisher"
	"github.com/conduit-run/conduit/internal/repository"
	"github.com/conduit-run/conduit/internal/tokenizer"
)

const maxCodeSize = 1 << 20 // 1 MB

const submitEndpoint = "/api/v1/executions"

// AuditSink receives metering events for asynchronous bulk persistence.
type AuditSink interface {
	Enqueue(event domain.AuditEvent)
}

// SubmitJobUsecase is the job gateway: it validates a submission, applies
// the idempotency and quota gates, and enqueues the job message.
type SubmitJobUsecase struct {
	idem    repository.IdempotencyStore
	meter   *QuotaMeter
	pub     publisher.Publisher
	pending repository.PendingStore
	sink    AuditSink
	logger  *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewSubmitJobUsecase creates a new SubmitJobUsecase.
func NewSubmitJobUsecase(
	idem repository.IdempotencyStore,
	meter *QuotaMeter,
	pub publisher.Publisher,
	pending repository.PendingStore,
	sink AuditSink,
	logger *zap.Logger,
) *SubmitJobUsecase {
	return &SubmitJobUsecase{
		idem:    idem,
		meter:   meter,
		pub:     pub,
		pending: pending,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}
}

// Execute runs the gateway pipeline: validate, acquire the idempotency
// lock, reserve quota, publish, record the pending marker, emit the audit
// event. A publish failure rolls the reservation and the lock back before
// surfacing, so a failed submission never leaves the user charged for a
// job that was not enqueued.
func (uc *SubmitJobUsecase) Execute(ctx context.Context, req *domain.SubmitRequest) (*domain.SubmitResponse, error) {
	if err := validate(req); err != nil {
		// The kind is user input here; an unvalidated value must not mint
		// new label series.
		kind := string(req.Kind)
		if !req.Kind.IsValid() {
			kind = "unknown"
		}
		metrics.SubmissionsTotal.WithLabelValues(kind, "invalid").Inc()
		return nil, err
	}

	acquired, current, err := uc.idem.Acquire(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency acquire: %w", err)
	}
	if !acquired {
		metrics.SubmissionsTotal.WithLabelValues(string(req.Kind), "duplicate").Inc()
		uc.logger.Info("Duplicate submission suppressed",
			zap.String("user_id", req.UserID),
			zap.String("status", string(current.Status)),
		)
		return nil, &domain.DuplicateError{Record: *current}
	}

	cost := tokenizer.Count(req.Code)
	if _, err := uc.meter.CheckAndReserve(ctx, req.UserID, cost); err != nil {
		// A refused or failed reservation has no side effects, so the lock
		// is released rather than left blocking retries until TTL.
		_ = uc.idem.Release(ctx, req.UserID, req.IdempotencyKey)
		if _, ok := err.(*domain.QuotaExceededError); ok {
			metrics.SubmissionsTotal.WithLabelValues(string(req.Kind), "quota_exceeded").Inc()
			metrics.QuotaRejections.Inc()
		}
		return nil, err
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		_ = uc.meter.Refund(ctx, req.UserID, cost)
		_ = uc.idem.Release(ctx, req.UserID, req.IdempotencyKey)
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	createdAt := uc.now().UTC()
	msg := &domain.JobMessage{
		JobID:        jobID,
		UserID:       req.UserID,
		Code:         req.Code,
		Language:     req.Language,
		Kind:         req.Kind,
		TestCases:    req.TestCases,
		ClientConnID: req.ClientConnID,
		CreatedAt:    createdAt,
	}

	start := uc.now()
	err = uc.pub.Publish(ctx, msg)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Compensate: the reservation and lock must not survive a failed
		// enqueue, otherwise the user is charged for nothing and a retry
		// with the same key is blocked until TTL.
		if rerr := uc.meter.Refund(ctx, req.UserID, cost); rerr != nil {
			uc.logger.Error("Quota refund failed after publish failure",
				zap.Error(rerr), zap.String("user_id", req.UserID))
		}
		_ = uc.idem.Release(ctx, req.UserID, req.IdempotencyKey)
		metrics.SubmissionsTotal.WithLabelValues(string(req.Kind), "publish_failed").Inc()
		uc.logger.Error("Failed to publish job message",
			zap.Error(err), zap.String("job_id", jobID.String()))
		return nil, domain.ErrPublishFailed
	}

	if err := uc.pending.SetPending(ctx, &domain.PendingJob{
		JobID:        jobID,
		UserID:       req.UserID,
		Code:         req.Code,
		Language:     req.Language,
		ClientConnID: req.ClientConnID,
	}); err != nil {
		// The job is already queued; a missing marker only degrades
		// crash-recovery correlation.
		uc.logger.Warn("Failed to write pending marker",
			zap.Error(err), zap.String("job_id", jobID.String()))
	}

	if req.Kind == domain.KindAllCases && req.ProblemID != "" {
		// A fresh full run supersedes any cached submission summary.
		if err := uc.pending.InvalidateSummary(ctx, req.UserID, req.ProblemID); err != nil {
			uc.logger.Warn("Failed to invalidate submission summary",
				zap.Error(err), zap.String("user_id", req.UserID))
		}
	}

	uc.sink.Enqueue(domain.AuditEvent{
		UserID:         req.UserID,
		TokensConsumed: cost,
		Endpoint:       submitEndpoint,
		CreatedAt:      createdAt,
	})

	if err := uc.idem.Complete(ctx, req.UserID, req.IdempotencyKey, jobID.String()); err != nil {
		uc.logger.Warn("Failed to complete idempotency record",
			zap.Error(err), zap.String("job_id", jobID.String()))
	}

	metrics.SubmissionsTotal.WithLabelValues(string(req.Kind), "accepted").Inc()
	uc.logger.Info("Job submitted",
		zap.String("job_id", jobID.String()),
		zap.String("user_id", req.UserID),
		zap.String("kind", string(req.Kind)),
		zap.Int64("token_cost", cost),
	)

	return &domain.SubmitResponse{JobID: jobID}, nil
}

func validate(req *domain.SubmitRequest) error {
	if strings.TrimSpace(req.Code) == "" {
		return domain.ErrEmptyCode
	}
	if len(req.Code) > maxCodeSize {
		return domain.ErrPayloadTooLarge
	}
	if !req.Language.IsValid() {
		return domain.ErrInvalidLanguage
	}
	if !req.Kind.IsValid() {
		return domain.ErrInvalidKind
	}
	if req.IdempotencyKey == "" {
		return domain.ErrMissingIdempotencyKey
	}
	if req.ClientConnID == "" {
		return domain.ErrMissingClientID
	}
	return nil
}
