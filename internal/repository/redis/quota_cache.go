package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

var _ repository.QuotaCache = (*quotaCache)(nil)

const (
	quotaKeyPrefix = "quota:"
	dirtySetKey    = "quota:dirty"

	fieldMonthlyLimit  = "monthly_limit"
	fieldTokenUsed     = "token_used"
	fieldCycleStartsAt = "cycle_starts_at"
	fieldCycleEndsAt   = "cycle_ends_at"
)

type quotaCache struct {
	client *goredis.Client
}

// NewQuotaCache creates the Redis-backed token ledger hash. Between
// reconciliations this cache is the only authority for admission decisions.
func NewQuotaCache(client *goredis.Client) repository.QuotaCache {
	return &quotaCache{client: client}
}

func quotaKey(userID string) string {
	return quotaKeyPrefix + userID
}

func (c *quotaCache) Get(ctx context.Context, userID string) (*domain.TokenLedgerEntry, error) {
	data, err := c.client.HGetAll(ctx, quotaKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read quota hash: %w", err)
	}
	if len(data) == 0 || data[fieldMonthlyLimit] == "" {
		return nil, nil
	}

	limit, err := strconv.ParseInt(data[fieldMonthlyLimit], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse monthly limit: %w", err)
	}
	used, err := strconv.ParseInt(data[fieldTokenUsed], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse token used: %w", err)
	}
	startsAt, err := time.Parse(time.RFC3339Nano, data[fieldCycleStartsAt])
	if err != nil {
		return nil, fmt.Errorf("redis: parse cycle start: %w", err)
	}
	endsAt, err := time.Parse(time.RFC3339Nano, data[fieldCycleEndsAt])
	if err != nil {
		return nil, fmt.Errorf("redis: parse cycle end: %w", err)
	}

	return &domain.TokenLedgerEntry{
		UserID:        userID,
		MonthlyLimit:  limit,
		TokenUsed:     used,
		CycleStartsAt: startsAt,
		CycleEndsAt:   endsAt,
	}, nil
}

func (c *quotaCache) Put(ctx context.Context, entry *domain.TokenLedgerEntry, ttl time.Duration) error {
	key := quotaKey(entry.UserID)
	err := c.client.HSet(ctx, key, map[string]interface{}{
		fieldMonthlyLimit:  strconv.FormatInt(entry.MonthlyLimit, 10),
		fieldTokenUsed:     strconv.FormatInt(entry.TokenUsed, 10),
		fieldCycleStartsAt: entry.CycleStartsAt.Format(time.RFC3339Nano),
		fieldCycleEndsAt:   entry.CycleEndsAt.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: write quota hash: %w", err)
	}
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis: expire quota hash: %w", err)
	}
	return nil
}

// IncrUsed mutates the shared counter with HINCRBY rather than a
// read-modify-write round trip, so concurrent gateway instances cannot
// lose updates.
func (c *quotaCache) IncrUsed(ctx context.Context, userID string, delta int64) (int64, error) {
	after, err := c.client.HIncrBy(ctx, quotaKey(userID), fieldTokenUsed, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: increment token used: %w", err)
	}
	if err := c.client.SAdd(ctx, dirtySetKey, userID).Err(); err != nil {
		return after, fmt.Errorf("redis: mark user dirty: %w", err)
	}
	return after, nil
}

// DirtyUsers reads and clears the dirty set in one pipeline so members
// added mid-drain land in the next sweep instead of being lost.
func (c *quotaCache) DirtyUsers(ctx context.Context) ([]string, error) {
	pipe := c.client.TxPipeline()
	members := pipe.SMembers(ctx, dirtySetKey)
	pipe.Del(ctx, dirtySetKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: drain dirty set: %w", err)
	}
	return members.Val(), nil
}
