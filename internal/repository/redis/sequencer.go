package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conduit-run/conduit/internal/repository"
)

var _ repository.Sequencer = (*redisSequencer)(nil)

const (
	tieKeyPrefix = "tie:"

	// Collisions only matter while writes for one millisecond are in
	// flight; the counter can expire almost immediately afterwards.
	tieKeyTTL = 5 * time.Second
)

type redisSequencer struct {
	client *goredis.Client
}

// NewSequencer creates the Redis-backed tie-break counter. INCR on a key
// scoped to (userID, millisecond) hands out 1..N densely to N concurrent
// writers.
func NewSequencer(client *goredis.Client) repository.Sequencer {
	return &redisSequencer{client: client}
}

func (s *redisSequencer) NextTie(ctx context.Context, userID string, createdAtMillis int64) (int64, error) {
	key := tieKeyPrefix + userID + ":" + strconv.FormatInt(createdAtMillis, 10)
	tie, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: tie-break incr: %w", err)
	}
	if tie == 1 {
		_ = s.client.Expire(ctx, key, tieKeyTTL).Err()
	}
	return tie, nil
}
