package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

var _ repository.PendingStore = (*pendingStore)(nil)

const (
	pendingKeyPrefix = "pending:"
	summaryKeyPrefix = "submissions:"
	caseKeyPrefix    = "job:"

	pendingTTL = 2 * time.Minute

	// An all-cases stream is short-lived; the buffer only has to outlive
	// the gap between the first and last per-case message.
	caseBufferTTL = 30 * time.Second

	caseTotalField = "total"
)

type pendingStore struct {
	client *goredis.Client
}

// NewPendingStore creates the Redis store for pending-job markers, cached
// submission summaries, and all-cases stream buffers.
func NewPendingStore(client *goredis.Client) repository.PendingStore {
	return &pendingStore{client: client}
}

func (p *pendingStore) SetPending(ctx context.Context, job *domain.PendingJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal pending job: %w", err)
	}
	key := pendingKeyPrefix + job.JobID.String()
	if err := p.client.Set(ctx, key, body, pendingTTL).Err(); err != nil {
		return fmt.Errorf("redis: set pending marker: %w", err)
	}
	return nil
}

func (p *pendingStore) GetPending(ctx context.Context, jobID uuid.UUID) (*domain.PendingJob, error) {
	raw, err := p.client.Get(ctx, pendingKeyPrefix+jobID.String()).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get pending marker: %w", err)
	}
	job := &domain.PendingJob{}
	if err := json.Unmarshal([]byte(raw), job); err != nil {
		return nil, fmt.Errorf("redis: decode pending marker: %w", err)
	}
	return job, nil
}

func (p *pendingStore) InvalidateSummary(ctx context.Context, userID, problemID string) error {
	key := summaryKeyPrefix + userID + ":" + problemID
	if err := p.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate submission summary: %w", err)
	}
	return nil
}

// BufferCase stores the per-case payload under its case number, so a
// replayed message overwrites itself and arrival order does not matter.
func (p *pendingStore) BufferCase(ctx context.Context, jobID uuid.UUID, msg *domain.ResultMessage) error {
	if msg.TestCase == nil {
		return fmt.Errorf("redis: buffer case: message has no test case payload")
	}
	body, err := json.Marshal(msg.TestCase)
	if err != nil {
		return fmt.Errorf("redis: marshal test case: %w", err)
	}

	key := caseKeyPrefix + jobID.String()
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(msg.TestCaseNumber), body)
	pipe.HSet(ctx, key, caseTotalField, strconv.Itoa(msg.TotalTestCases))
	pipe.Expire(ctx, key, caseBufferTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: buffer test case: %w", err)
	}
	return nil
}

func (p *pendingStore) CollectCases(ctx context.Context, jobID uuid.UUID) ([]domain.TestCaseResult, int, error) {
	key := caseKeyPrefix + jobID.String()
	data, err := p.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis: collect test cases: %w", err)
	}

	total := 0
	cases := make([]domain.TestCaseResult, 0, len(data))
	for field, value := range data {
		if field == caseTotalField {
			total, _ = strconv.Atoi(value)
			continue
		}
		var tc domain.TestCaseResult
		if err := json.Unmarshal([]byte(value), &tc); err != nil {
			return nil, 0, fmt.Errorf("redis: decode buffered test case: %w", err)
		}
		cases = append(cases, tc)
	}

	sort.Slice(cases, func(i, j int) bool {
		return cases[i].TestCaseNumber < cases[j].TestCaseNumber
	})
	return cases, total, nil
}
