package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/relay"
	mockrepo "github.com/conduit-run/conduit/internal/repository/mock"
)

// recordPusher captures relay pushes for assertions.
type recordPusher struct {
	mu     sync.Mutex
	pushes []pushedEvent
}

type pushedEvent struct {
	ClientID string
	Event    string
}

func (p *recordPusher) Push(clientID, event string, payload interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, pushedEvent{ClientID: clientID, Event: event})
	return true
}

func (p *recordPusher) Pushes() []pushedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushedEvent(nil), p.pushes...)
}

type ingestFixture struct {
	uc      *IngestResultUsecase
	ledger  *mockrepo.MockLedgerRepository
	seq     *mockrepo.MockSequencer
	pending *mockrepo.MockPendingStore
	pusher  *recordPusher
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		ledger:  mockrepo.NewMockLedgerRepository(),
		seq:     mockrepo.NewMockSequencer(),
		pending: mockrepo.NewMockPendingStore(),
		pusher:  &recordPusher{},
	}
	f.uc = NewIngestResultUsecase(f.ledger, f.seq, f.pending, f.pusher, zap.NewNop())
	return f
}

func TestIngestResult_Run(t *testing.T) {
	f := newIngestFixture()
	msg := &domain.ResultMessage{
		JobID:        uuid.New(),
		UserID:       "user-1",
		Kind:         domain.KindPrint,
		Status:       domain.StatusSuccess,
		Output:       "42\n",
		DurationSec:  0.37,
		ClientConnID: "conn-1",
	}

	if err := f.uc.Execute(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pushes := f.pusher.Pushes()
	if len(pushes) != 1 || pushes[0].Event != relay.EventRunResult || pushes[0].ClientID != "conn-1" {
		t.Errorf("expected one run_result push to conn-1, got %v", pushes)
	}

	records := f.ledger.GetAll()
	if len(records) != 1 {
		t.Fatalf("expected 1 ledger record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != domain.StatusSuccess || rec.Output != "42\n" || rec.DurationSec != 0.37 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.TieBreak != 1 {
		t.Errorf("expected tie break 1, got %d", rec.TieBreak)
	}
}

func TestIngestResult_SameMillisecondTieBreak(t *testing.T) {
	f := newIngestFixture()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.uc.now = func() time.Time { return at }

	for i := 0; i < 3; i++ {
		msg := &domain.ResultMessage{
			JobID:        uuid.New(),
			UserID:       "user-1",
			Kind:         domain.KindRaw,
			Status:       domain.StatusSuccess,
			ClientConnID: "conn-1",
		}
		if err := f.uc.Execute(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error on message %d: %v", i, err)
		}
	}

	records := f.ledger.GetAll()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	// Tie values are dense 1..N and record N's timestamp is nudged by
	// (N-1)ms, so every (created_at, tie_break) sort key is distinct.
	byTie := make(map[int64]time.Time, 3)
	for _, rec := range records {
		if _, dup := byTie[rec.TieBreak]; dup {
			t.Fatalf("duplicate tie break %d", rec.TieBreak)
		}
		byTie[rec.TieBreak] = rec.CreatedAt
	}
	for tie := int64(1); tie <= 3; tie++ {
		got, ok := byTie[tie]
		if !ok {
			t.Fatalf("missing tie break %d", tie)
		}
		want := at.Add(time.Duration(tie-1) * time.Millisecond)
		if !got.Equal(want) {
			t.Errorf("tie %d: expected created_at %v, got %v", tie, want, got)
		}
	}
}

func TestIngestResult_Blocked(t *testing.T) {
	f := newIngestFixture()
	msg := &domain.ResultMessage{
		JobID:        uuid.New(),
		UserID:       "user-1",
		Kind:         domain.KindRaw,
		Status:       domain.StatusUnsafe,
		Reason:       "forbidden syscall: fork",
		DurationSec:  3.2,
		ClientConnID: "conn-1",
	}

	if err := f.uc.Execute(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pushes := f.pusher.Pushes()
	if len(pushes) != 1 || pushes[0].Event != relay.EventBlockedResult {
		t.Errorf("expected blocked_result push, got %v", pushes)
	}

	records := f.ledger.GetAll()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != domain.StatusUnsafe || rec.Reason != "forbidden syscall: fork" {
		t.Errorf("unexpected record: %+v", rec)
	}
	// A refusal never carries a runtime
	if rec.DurationSec != 0 {
		t.Errorf("expected duration 0 for blocked result, got %f", rec.DurationSec)
	}
}

func TestIngestResult_ReplayIsIdempotent(t *testing.T) {
	f := newIngestFixture()
	msg := &domain.ResultMessage{
		JobID:        uuid.New(),
		UserID:       "user-1",
		Kind:         domain.KindPrint,
		Status:       domain.StatusSuccess,
		Output:       "ok",
		ClientConnID: "conn-1",
	}

	for i := 0; i < 2; i++ {
		if err := f.uc.Execute(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error on delivery %d: %v", i, err)
		}
	}

	if got := len(f.ledger.GetAll()); got != 1 {
		t.Errorf("expected 1 ledger record after redelivery, got %d", got)
	}
}

func TestIngestResult_AllCasesOutOfOrder(t *testing.T) {
	f := newIngestFixture()
	jobID := uuid.New()
	ctx := context.Background()

	caseMsg := func(n int, passed bool, dur float64) *domain.ResultMessage {
		return &domain.ResultMessage{
			JobID:          jobID,
			UserID:         "user-1",
			Kind:           domain.KindAllCases,
			Status:         domain.StatusSuccess,
			ClientConnID:   "conn-1",
			TestCaseNumber: n,
			TotalTestCases: 2,
			TestCase: &domain.TestCaseResult{
				TestCaseNumber: n,
				Passed:         passed,
				DurationSec:    dur,
			},
		}
	}

	// The final-numbered case arrives first; the stream is not complete
	// until every advertised case has been buffered.
	if err := f.uc.Execute(ctx, caseMsg(2, false, 0.5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(f.ledger.GetAll()); got != 0 {
		t.Fatalf("expected no record before the stream completes, got %d", got)
	}

	if err := f.uc.Execute(ctx, caseMsg(1, true, 0.25)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every case was relayed live
	pushes := f.pusher.Pushes()
	if len(pushes) != 2 || pushes[0].Event != relay.EventTestCaseResult {
		t.Errorf("expected 2 test_case_result pushes, got %v", pushes)
	}

	records := f.ledger.GetAll()
	if len(records) != 1 {
		t.Fatalf("expected 1 aggregate record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != domain.StatusFailed {
		t.Errorf("expected failed aggregate (one case failed), got %s", rec.Status)
	}
	if len(rec.TestCases) != 2 || rec.TestCases[0].TestCaseNumber != 1 {
		t.Errorf("expected cases sorted by number, got %+v", rec.TestCases)
	}
	if rec.DurationSec != 0.75 {
		t.Errorf("expected summed duration 0.75, got %f", rec.DurationSec)
	}
}

func TestIngestResult_UnknownStatus(t *testing.T) {
	f := newIngestFixture()
	msg := &domain.ResultMessage{
		JobID:        uuid.New(),
		UserID:       "user-1",
		Kind:         domain.KindPrint,
		Status:       "exploded",
		ClientConnID: "conn-1",
	}

	err := f.uc.Execute(context.Background(), msg)
	if !errors.Is(err, domain.ErrUnprocessableResult) {
		t.Fatalf("expected ErrUnprocessableResult for unknown status, got %v", err)
	}
	if got := len(f.ledger.GetAll()); got != 0 {
		t.Errorf("expected no record for unknown status, got %d", got)
	}
}

func TestIngestResult_AllCasesWithoutPayload(t *testing.T) {
	f := newIngestFixture()
	msg := &domain.ResultMessage{
		JobID:          uuid.New(),
		UserID:         "user-1",
		Kind:           domain.KindAllCases,
		Status:         domain.StatusSuccess,
		ClientConnID:   "conn-1",
		TestCaseNumber: 1,
		TotalTestCases: 2,
	}

	// Deterministic rejection, not a transient failure: the consumer
	// dead-letters on this error instead of requeueing.
	err := f.uc.Execute(context.Background(), msg)
	if !errors.Is(err, domain.ErrUnprocessableResult) {
		t.Fatalf("expected ErrUnprocessableResult for missing payload, got %v", err)
	}
	if got := len(f.pusher.Pushes()); got != 0 {
		t.Errorf("expected no relay push for a rejected message, got %d", got)
	}
}

func TestIngestResult_RecoversLanguageFromPendingMarker(t *testing.T) {
	f := newIngestFixture()
	jobID := uuid.New()
	ctx := context.Background()

	if err := f.pending.SetPending(ctx, &domain.PendingJob{
		JobID:        jobID,
		UserID:       "user-1",
		Language:     domain.LangGo,
		ClientConnID: "conn-1",
	}); err != nil {
		t.Fatalf("seed pending marker: %v", err)
	}

	msg := &domain.ResultMessage{
		JobID:        jobID,
		UserID:       "user-1",
		Kind:         domain.KindPrint,
		Status:       domain.StatusSuccess,
		Output:       "ok",
		ClientConnID: "conn-1",
	}
	if err := f.uc.Execute(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := f.ledger.GetAll()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Language != domain.LangGo {
		t.Errorf("expected language recovered from pending marker, got %q", records[0].Language)
	}

	// An expired marker only loses the language column
	orphan := &domain.ResultMessage{
		JobID:        uuid.New(),
		UserID:       "user-1",
		Kind:         domain.KindPrint,
		Status:       domain.StatusSuccess,
		ClientConnID: "conn-1",
	}
	if err := f.uc.Execute(ctx, orphan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
