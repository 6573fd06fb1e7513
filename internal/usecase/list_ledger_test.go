package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
	mockrepo "github.com/conduit-run/conduit/internal/repository/mock"
)

func TestListLedger_WalksEveryRecordExactlyOnce(t *testing.T) {
	ledger := mockrepo.NewMockLedgerRepository()
	uc := NewListLedgerUsecase(ledger, zap.NewNop())
	ctx := context.Background()

	// 20 records, including same-millisecond groups disambiguated by tie
	// break, the shape the sequencer produces under burst ingestion.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seeded := make(map[uuid.UUID]bool, 20)
	for i := 0; i < 20; i++ {
		rec := &domain.ResultRecord{
			JobID:     uuid.New(),
			UserID:    "user-1",
			Kind:      domain.KindPrint,
			Status:    domain.StatusSuccess,
			CreatedAt: base.Add(time.Duration(i/3) * time.Second).Add(time.Duration(i%3) * time.Millisecond),
			TieBreak:  int64(i%3) + 1,
		}
		if err := ledger.Upsert(ctx, rec); err != nil {
			t.Fatalf("seed record %d: %v", i, err)
		}
		seeded[rec.JobID] = true
	}
	// Another user's records must never leak into the page
	if err := ledger.Upsert(ctx, &domain.ResultRecord{
		JobID:     uuid.New(),
		UserID:    "user-2",
		Status:    domain.StatusSuccess,
		CreatedAt: base,
		TieBreak:  1,
	}); err != nil {
		t.Fatalf("seed other user: %v", err)
	}

	seen := make(map[uuid.UUID]bool)
	var cursor *domain.Cursor
	var prev *domain.ResultRecord
	pages := 0
	for {
		page, err := uc.Execute(ctx, "user-1", cursor, 8)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		pages++
		for i := range page.Records {
			rec := &page.Records[i]
			if !seeded[rec.JobID] {
				t.Fatalf("unexpected record %s in page", rec.JobID)
			}
			if seen[rec.JobID] {
				t.Fatalf("record %s returned twice", rec.JobID)
			}
			seen[rec.JobID] = true

			// Strictly decreasing (created_at, tie_break) across pages
			if prev != nil {
				after := rec.CreatedAt.After(prev.CreatedAt) ||
					(rec.CreatedAt.Equal(prev.CreatedAt) && rec.TieBreak >= prev.TieBreak)
				if after {
					t.Fatalf("order violated: %v/%d after %v/%d",
						rec.CreatedAt, rec.TieBreak, prev.CreatedAt, prev.TieBreak)
				}
			}
			prev = rec
		}
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 20 {
		t.Errorf("expected 20 records across pages, got %d", len(seen))
	}
	if pages != 3 {
		t.Errorf("expected 3 pages of 8, got %d", pages)
	}
}

func TestListLedger_LimitBounds(t *testing.T) {
	ledger := mockrepo.NewMockLedgerRepository()
	uc := NewListLedgerUsecase(ledger, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		if err := ledger.Upsert(ctx, &domain.ResultRecord{
			JobID:     uuid.New(),
			UserID:    "user-1",
			Status:    domain.StatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			TieBreak:  1,
		}); err != nil {
			t.Fatalf("seed record %d: %v", i, err)
		}
	}

	// Zero limit falls back to the default page size
	page, err := uc.Execute(ctx, "user-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Records) != defaultPageLimit {
		t.Errorf("expected default page of %d, got %d", defaultPageLimit, len(page.Records))
	}
	if page.NextCursor == nil {
		t.Error("expected next cursor on a partial read")
	}

	// An exhausted result set carries no cursor
	page, err = uc.Execute(ctx, "user-1", nil, maxPageLimit+50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Records) != 12 {
		t.Errorf("expected all 12 records, got %d", len(page.Records))
	}
	if page.NextCursor != nil {
		t.Error("expected nil cursor when no records remain")
	}
}
