// Package auditlog buffers metering events and flushes them to the durable
// store in bulk. Everything here is best-effort telemetry: a crash loses at
// most one unflushed buffer, never an admission decision.
package auditlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/metrics"
	"github.com/conduit-run/conduit/internal/repository"
)

// Sink is the batch log sink: an in-memory buffer flushed as one bulk
// insert when it reaches the size threshold or the periodic timer fires.
type Sink struct {
	repo      repository.AuditRepository
	batchSize int
	interval  time.Duration
	logger    *zap.Logger

	mu  sync.Mutex
	buf []domain.AuditEvent
}

// NewSink creates a new batch log sink.
func NewSink(repo repository.AuditRepository, batchSize int, interval time.Duration, logger *zap.Logger) *Sink {
	return &Sink{
		repo:      repo,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		buf:       make([]domain.AuditEvent, 0, batchSize),
	}
}

// Enqueue appends an event, triggering a flush when the buffer is full.
func (s *Sink) Enqueue(event domain.AuditEvent) {
	s.mu.Lock()
	s.buf = append(s.buf, event)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.flush(context.Background(), "size")
	}
}

// Run flushes on the periodic timer until the context is cancelled, then
// performs a final drain.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background(), "shutdown")
			return
		case <-ticker.C:
			s.flush(ctx, "timer")
		}
	}
}

// Flush drains the buffer immediately.
func (s *Sink) Flush(ctx context.Context) {
	s.flush(ctx, "manual")
}

func (s *Sink) flush(ctx context.Context, trigger string) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = make([]domain.AuditEvent, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.repo.InsertBatch(ctx, batch); err != nil {
		// Dropped on the floor: audit telemetry is not worth blocking or
		// re-buffering unboundedly for.
		s.logger.Error("Audit batch insert failed",
			zap.Error(err),
			zap.Int("events", len(batch)),
		)
		return
	}

	metrics.AuditFlushes.WithLabelValues(trigger).Inc()
	s.logger.Debug("Audit buffer flushed",
		zap.String("trigger", trigger),
		zap.Int("events", len(batch)),
	)
}

// Size returns the number of buffered, unflushed events.
func (s *Sink) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
