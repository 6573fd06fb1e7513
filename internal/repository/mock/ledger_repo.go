package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

// Ensure MockLedgerRepository implements repository.LedgerRepository.
var _ repository.LedgerRepository = (*MockLedgerRepository)(nil)

// MockLedgerRepository is an in-memory ledger for testing. It reproduces
// the keyset pagination contract of the Postgres implementation.
type MockLedgerRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.ResultRecord

	UpsertFunc func(ctx context.Context, rec *domain.ResultRecord) error
}

// NewMockLedgerRepository creates a new mock ledger.
func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{records: make(map[uuid.UUID]*domain.ResultRecord)}
}

func (m *MockLedgerRepository) Upsert(ctx context.Context, rec *domain.ResultRecord) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.JobID]; exists {
		return nil
	}
	cp := *rec
	m.records[rec.JobID] = &cp
	return nil
}

func (m *MockLedgerRepository) List(ctx context.Context, userID string, cursor *domain.Cursor, limit int) (*domain.LedgerPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]domain.ResultRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.UserID != userID {
			continue
		}
		if cursor != nil {
			before := rec.CreatedAt.Before(cursor.CreatedAt) ||
				(rec.CreatedAt.Equal(cursor.CreatedAt) && rec.TieBreak < cursor.TieBreak)
			if !before {
				continue
			}
		}
		all = append(all, *rec)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].TieBreak > all[j].TieBreak
	})

	page := &domain.LedgerPage{}
	if len(all) > limit {
		all = all[:limit]
		last := all[len(all)-1]
		page.NextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, TieBreak: last.TieBreak}
	}
	page.Records = all
	return page, nil
}

// GetAll returns all stored records (for test assertions).
func (m *MockLedgerRepository) GetAll() []*domain.ResultRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.ResultRecord, 0, len(m.records))
	for _, rec := range m.records {
		result = append(result, rec)
	}
	return result
}
