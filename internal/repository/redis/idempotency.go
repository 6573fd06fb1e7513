package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conduit-run/conduit/internal/domain"
	"github.com/conduit-run/conduit/internal/repository"
)

var _ repository.IdempotencyStore = (*redisIdempotency)(nil)

const idemKeyPrefix = "idem:"

type redisIdempotency struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewIdempotencyStore creates a Redis-backed idempotency store using SET NX.
func NewIdempotencyStore(client *goredis.Client, ttl time.Duration) repository.IdempotencyStore {
	return &redisIdempotency{client: client, ttl: ttl}
}

func idemKey(userID, key string) string {
	return idemKeyPrefix + userID + ":" + key
}

// Acquire creates the in-progress lock if the key is unseen. A crash before
// Complete leaves the lock until TTL expiry; that window intentionally
// blocks retries so the job cannot be enqueued twice.
func (r *redisIdempotency) Acquire(ctx context.Context, userID, key string) (bool, *domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{Status: domain.IdemInProgress}
	body, err := json.Marshal(rec)
	if err != nil {
		return false, nil, fmt.Errorf("redis: marshal idempotency record: %w", err)
	}

	k := idemKey(userID, key)
	ok, err := r.client.SetNX(ctx, k, body, r.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("redis: acquire idempotency lock: %w", err)
	}
	if ok {
		return true, nil, nil
	}

	raw, err := r.client.Get(ctx, k).Result()
	if err == goredis.Nil {
		// Lock expired between SETNX and GET; treat as in progress.
		return false, &domain.IdempotencyRecord{Status: domain.IdemInProgress}, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("redis: read idempotency record: %w", err)
	}

	current := &domain.IdempotencyRecord{}
	if err := json.Unmarshal([]byte(raw), current); err != nil {
		return false, nil, fmt.Errorf("redis: decode idempotency record: %w", err)
	}
	return false, current, nil
}

func (r *redisIdempotency) Complete(ctx context.Context, userID, key, jobID string) error {
	rec := domain.IdempotencyRecord{Status: domain.IdemCompleted, JobID: jobID}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal idempotency record: %w", err)
	}
	if err := r.client.Set(ctx, idemKey(userID, key), body, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis: complete idempotency record: %w", err)
	}
	return nil
}

func (r *redisIdempotency) Release(ctx context.Context, userID, key string) error {
	if err := r.client.Del(ctx, idemKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("redis: release idempotency lock: %w", err)
	}
	return nil
}
