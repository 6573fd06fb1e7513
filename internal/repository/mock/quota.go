package mock

import (
	"context"
	"sync"
	"time"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

// Ensure the mocks implement their interfaces.
var (
	_ repository.QuotaCache      = (*MockQuotaCache)(nil)
	_ repository.QuotaRepository = (*MockQuotaRepository)(nil)
)

// MockQuotaCache is an in-memory quota cache for testing.
type MockQuotaCache struct {
	mu      sync.Mutex
	entries map[string]*domain.TokenLedgerEntry
	dirty   map[string]struct{}

	GetFunc      func(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error)
	IncrUsedFunc func(ctx context.Context, userID string, delta int64) (int64, error)
}

// NewMockQuotaCache creates a new mock quota cache.
func NewMockQuotaCache() *MockQuotaCache {
	return &MockQuotaCache{
		entries: make(map[string]*domain.TokenLedgerEntry),
		dirty:   make(map[string]struct{}),
	}
}

func (m *MockQuotaCache) Get(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[userID]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (m *MockQuotaCache) Put(ctx context.Context, entry *domain.TokenLedgerEntry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries[entry.UserID] = &cp
	return nil
}

func (m *MockQuotaCache) IncrUsed(ctx context.Context, userID string, delta int64) (int64, error) {
	if m.IncrUsedFunc != nil {
		return m.IncrUsedFunc(ctx, userID, delta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[userID]
	if !ok {
		entry = &domain.TokenLedgerEntry{UserID: userID}
		m.entries[userID] = entry
	}
	entry.TokenUsed += delta
	m.dirty[userID] = struct{}{}
	return entry.TokenUsed, nil
}

func (m *MockQuotaCache) DirtyUsers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]string, 0, len(m.dirty))
	for u := range m.dirty {
		users = append(users, u)
	}
	m.dirty = make(map[string]struct{})
	return users, nil
}

// Dirty reports whether a user is currently in the dirty set
// (for test assertions).
func (m *MockQuotaCache) Dirty(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dirty[userID]
	return ok
}

// MockQuotaRepository is an in-memory durable quota store for testing.
type MockQuotaRepository struct {
	mu      sync.Mutex
	entries map[string]*domain.TokenLedgerEntry

	GetFunc         func(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error)
	UpsertUsageFunc func(ctx context.Context, usages map[string]int64) error
}

// NewMockQuotaRepository creates a new mock durable quota store.
func NewMockQuotaRepository() *MockQuotaRepository {
	return &MockQuotaRepository{entries: make(map[string]*domain.TokenLedgerEntry)}
}

func (m *MockQuotaRepository) Get(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[userID]
	if !ok {
		return nil, domain.ErrQuotaNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *MockQuotaRepository) Create(ctx context.Context, entry *domain.TokenLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.UserID]; exists {
		return nil
	}
	cp := *entry
	m.entries[entry.UserID] = &cp
	return nil
}

func (m *MockQuotaRepository) UpsertUsage(ctx context.Context, usages map[string]int64) error {
	if m.UpsertUsageFunc != nil {
		return m.UpsertUsageFunc(ctx, usages)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, used := range usages {
		if entry, ok := m.entries[userID]; ok {
			entry.TokenUsed = used
		}
	}
	return nil
}

// Usage returns the durable token_used counter for a user
// (for test assertions).
func (m *MockQuotaRepository) Usage(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[userID]; ok {
		return entry.TokenUsed
	}
	return 0
}
