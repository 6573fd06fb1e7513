package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

const (
	defaultPageLimit = 8
	maxPageLimit     = 100
)

// ListLedgerUsecase serves cursor-paginated reads of the execution ledger.
type ListLedgerUsecase struct {
	ledger repository.LedgerRepository
	logger *zap.Logger
}

// NewListLedgerUsecase creates a new ListLedgerUsecase.
func NewListLedgerUsecase(ledger repository.LedgerRepository, logger *zap.Logger) *ListLedgerUsecase {
	return &ListLedgerUsecase{ledger: ledger, logger: logger}
}

// Execute returns one page of the user's records. A zero or negative limit
// falls back to the default; a nil cursor starts at the newest record.
func (uc *ListLedgerUsecase) Execute(ctx context.Context, userID string, cursor *domain.Cursor, limit int) (*domain.LedgerPage, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	page, err := uc.ledger.List(ctx, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return page, nil
}
