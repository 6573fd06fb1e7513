package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/metrics"
	"github.com/conduit-run/conduit/internal/relay"
	"github.com/conduit-run/conduit/internal/repository"
)

// ResultPusher is the live-delivery side of result ingestion.
type ResultPusher interface {
	Push(clientID, event string, payload interface{}) bool
}

// IngestResultUsecase consumes worker result messages: it relays them to
// the originating client (best-effort) and persists them to the execution
// ledger (not best-effort). Ingestion is idempotent by job ID because the
// broker delivers at least once.
type IngestResultUsecase struct {
	ledger  repository.LedgerRepository
	seq     repository.Sequencer
	pending repository.PendingStore
	pusher  ResultPusher
	logger  *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewIngestResultUsecase creates a new IngestResultUsecase.
func NewIngestResultUsecase(
	ledger repository.LedgerRepository,
	seq repository.Sequencer,
	pending repository.PendingStore,
	pusher ResultPusher,
	logger *zap.Logger,
) *IngestResultUsecase {
	return &IngestResultUsecase{
		ledger:  ledger,
		seq:     seq,
		pending: pending,
		pusher:  pusher,
		logger:  logger,
		now:     time.Now,
	}
}

// Execute processes one result message. Relay delivery failures are
// swallowed; a ledger write failure is returned so the broker redelivers.
func (uc *IngestResultUsecase) Execute(ctx context.Context, msg *domain.ResultMessage) error {
	if !msg.Status.IsValid() {
		return fmt.Errorf("ingest: unknown result status %q (job_id=%s): %w",
			msg.Status, msg.JobID, domain.ErrUnprocessableResult)
	}

	if msg.Status == domain.StatusUnsafe {
		return uc.ingestBlocked(ctx, msg)
	}
	if msg.Kind == domain.KindAllCases {
		return uc.ingestTestCase(ctx, msg)
	}
	return uc.ingestRun(ctx, msg)
}

// ingestBlocked handles a worker refusal: a distinct event on the wire, a
// zero-duration record in the ledger.
func (uc *IngestResultUsecase) ingestBlocked(ctx context.Context, msg *domain.ResultMessage) error {
	msg.DurationSec = 0
	uc.pusher.Push(msg.ClientConnID, relay.EventBlockedResult, msg)

	return uc.persist(ctx, &domain.ResultRecord{
		JobID:       msg.JobID,
		UserID:      msg.UserID,
		Kind:        msg.Kind,
		Status:      domain.StatusUnsafe,
		Reason:      msg.Reason,
		DurationSec: 0,
	})
}

// ingestRun handles single-case and raw results: one message, one record.
func (uc *IngestResultUsecase) ingestRun(ctx context.Context, msg *domain.ResultMessage) error {
	uc.pusher.Push(msg.ClientConnID, relay.EventRunResult, msg)

	return uc.persist(ctx, &domain.ResultRecord{
		JobID:       msg.JobID,
		UserID:      msg.UserID,
		Kind:        msg.Kind,
		Status:      msg.Status,
		Output:      msg.Output,
		DurationSec: msg.DurationSec,
	})
}

// ingestTestCase handles one message of an all-cases stream. Every message
// is relayed for live progress and buffered by case number; only once every
// advertised case has been buffered is the aggregate ledger record written.
func (uc *IngestResultUsecase) ingestTestCase(ctx context.Context, msg *domain.ResultMessage) error {
	if msg.TestCase == nil {
		return fmt.Errorf("ingest: all-cases message without test case payload (job_id=%s): %w",
			msg.JobID, domain.ErrUnprocessableResult)
	}

	uc.pusher.Push(msg.ClientConnID, relay.EventTestCaseResult, msg)

	if err := uc.pending.BufferCase(ctx, msg.JobID, msg); err != nil {
		return fmt.Errorf("ingest: buffer case: %w", err)
	}

	// Completion is judged against the buffer, not this message: the final
	// case may arrive before earlier ones, and the stream is done only once
	// every advertised case has been buffered.
	cases, total, err := uc.pending.CollectCases(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("ingest: collect cases: %w", err)
	}
	if total == 0 || len(cases) < total {
		return nil
	}

	status := domain.StatusSuccess
	var duration float64
	for _, tc := range cases {
		if !tc.Passed {
			status = domain.StatusFailed
		}
		duration += tc.DurationSec
	}

	return uc.persist(ctx, &domain.ResultRecord{
		JobID:       msg.JobID,
		UserID:      msg.UserID,
		Kind:        msg.Kind,
		Status:      status,
		DurationSec: duration,
		TestCases:   cases,
	})
}

// persist assigns the tie-broken sort key and upserts the record. Records
// landing in the same millisecond for one user receive dense tie values
// 1..N, and record N's stored timestamp is nudged by (N-1)ms so the
// (created_at, tie_break) composite is a strict total order.
func (uc *IngestResultUsecase) persist(ctx context.Context, rec *domain.ResultRecord) error {
	// Result messages do not carry the language; recover it from the
	// pending marker while it is still alive. An expired marker only
	// costs the ledger row its language column.
	if job, err := uc.pending.GetPending(ctx, rec.JobID); err == nil && job != nil {
		rec.Language = job.Language
	}

	createdAt := uc.now().UTC().Truncate(time.Millisecond)

	tie, err := uc.seq.NextTie(ctx, rec.UserID, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("ingest: tie-break: %w", err)
	}
	if tie > 1 {
		createdAt = createdAt.Add(time.Duration(tie-1) * time.Millisecond)
	}

	rec.CreatedAt = createdAt
	rec.TieBreak = tie

	if err := uc.ledger.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("ingest: ledger write: %w", err)
	}
	metrics.LedgerWrites.Inc()

	uc.logger.Debug("Result recorded",
		zap.String("job_id", rec.JobID.String()),
		zap.String("status", string(rec.Status)),
		zap.Int64("tie_break", rec.TieBreak),
	)
	return nil
}
