package mock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

// Ensure the mocks implement their interfaces.
var (
	_ repository.IdempotencyStore = (*MockIdempotencyStore)(nil)
	_ repository.Sequencer        = (*MockSequencer)(nil)
	_ repository.PendingStore     = (*MockPendingStore)(nil)
	_ repository.AuditRepository  = (*MockAuditRepository)(nil)
)

// MockIdempotencyStore is an in-memory idempotency guard for testing.
// TTL expiry is not simulated; tests exercise the lock lifecycle directly.
type MockIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord

	AcquireFunc func(ctx context.Context, userID, key string) (bool, *domain.IdempotencyRecord, error)
}

// NewMockIdempotencyStore creates a new mock idempotency store.
func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{records: make(map[string]*domain.IdempotencyRecord)}
}

func idemKey(userID, key string) string { return userID + ":" + key }

func (m *MockIdempotencyStore) Acquire(ctx context.Context, userID, key string) (bool, *domain.IdempotencyRecord, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, userID, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, exists := m.records[idemKey(userID, key)]; exists {
		cp := *current
		return false, &cp, nil
	}
	m.records[idemKey(userID, key)] = &domain.IdempotencyRecord{Status: domain.IdemInProgress}
	return true, nil, nil
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, userID, key, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[idemKey(userID, key)] = &domain.IdempotencyRecord{Status: domain.IdemCompleted, JobID: jobID}
	return nil
}

func (m *MockIdempotencyStore) Release(ctx context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, idemKey(userID, key))
	return nil
}

// Record returns the current lock record for a pair (for test assertions).
func (m *MockIdempotencyStore) Record(userID, key string) *domain.IdempotencyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[idemKey(userID, key)]
}

// MockSequencer is an in-memory tie-break counter for testing.
type MockSequencer struct {
	mu       sync.Mutex
	counters map[string]int64

	NextTieFunc func(ctx context.Context, userID string, createdAtMillis int64) (int64, error)
}

// NewMockSequencer creates a new mock sequencer.
func NewMockSequencer() *MockSequencer {
	return &MockSequencer{counters: make(map[string]int64)}
}

func (m *MockSequencer) NextTie(ctx context.Context, userID string, createdAtMillis int64) (int64, error) {
	if m.NextTieFunc != nil {
		return m.NextTieFunc(ctx, userID, createdAtMillis)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + ":" + strconv.FormatInt(createdAtMillis, 10)
	m.counters[k]++
	return m.counters[k], nil
}

// MockPendingStore is an in-memory pending/buffer store for testing.
type MockPendingStore struct {
	mu          sync.Mutex
	pending     map[uuid.UUID]*domain.PendingJob
	buffers     map[uuid.UUID]map[int]domain.TestCaseResult
	totals      map[uuid.UUID]int
	invalidated []string
}

// NewMockPendingStore creates a new mock pending store.
func NewMockPendingStore() *MockPendingStore {
	return &MockPendingStore{
		pending: make(map[uuid.UUID]*domain.PendingJob),
		buffers: make(map[uuid.UUID]map[int]domain.TestCaseResult),
		totals:  make(map[uuid.UUID]int),
	}
}

func (m *MockPendingStore) SetPending(ctx context.Context, job *domain.PendingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.pending[job.JobID] = &cp
	return nil
}

func (m *MockPendingStore) GetPending(ctx context.Context, jobID uuid.UUID) (*domain.PendingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.pending[jobID]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (m *MockPendingStore) InvalidateSummary(ctx context.Context, userID, problemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, userID+":"+problemID)
	return nil
}

func (m *MockPendingStore) BufferCase(ctx context.Context, jobID uuid.UUID, msg *domain.ResultMessage) error {
	if msg.TestCase == nil {
		return fmt.Errorf("mock: buffer case: message has no test case payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buffers[jobID] == nil {
		m.buffers[jobID] = make(map[int]domain.TestCaseResult)
	}
	m.buffers[jobID][msg.TestCaseNumber] = *msg.TestCase
	m.totals[jobID] = msg.TotalTestCases
	return nil
}

func (m *MockPendingStore) CollectCases(ctx context.Context, jobID uuid.UUID) ([]domain.TestCaseResult, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.buffers[jobID]
	cases := make([]domain.TestCaseResult, 0, len(buf))
	for _, tc := range buf {
		cases = append(cases, tc)
	}
	sort.Slice(cases, func(i, j int) bool {
		return cases[i].TestCaseNumber < cases[j].TestCaseNumber
	})
	return cases, m.totals[jobID], nil
}

// Invalidated returns the user:problem summary keys dropped so far
// (for test assertions).
func (m *MockPendingStore) Invalidated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invalidated...)
}

// MockAuditRepository is an in-memory audit event store for testing.
type MockAuditRepository struct {
	mu      sync.Mutex
	Batches [][]domain.AuditEvent

	InsertBatchFunc func(ctx context.Context, events []domain.AuditEvent) error
}

// NewMockAuditRepository creates a new mock audit store.
func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{}
}

func (m *MockAuditRepository) InsertBatch(ctx context.Context, events []domain.AuditEvent) error {
	if m.InsertBatchFunc != nil {
		return m.InsertBatchFunc(ctx, events)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := append([]domain.AuditEvent(nil), events...)
	m.Batches = append(m.Batches, batch)
	return nil
}

// Total returns the number of events across all flushed batches
// (for test assertions).
func (m *MockAuditRepository) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.Batches {
		n += len(b)
	}
	return n
}
