package mock

import (
	"context"
	"sync"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/publisher"
)

// Ensure MockPublisher implements publisher.Publisher.
var _ publisher.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock message publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published []*domain.JobMessage
	PublishFn func(ctx context.Context, msg *domain.JobMessage) error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, msg *domain.JobMessage) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, msg)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Count returns the number of published messages (for test assertions).
func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}
