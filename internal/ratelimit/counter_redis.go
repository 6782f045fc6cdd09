package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCounterPrefix = "moltguard:rate:"
	redisCounterGrace  = time.Minute
)

// RedisCounterStore keeps window counters as plain Redis integers that expire
// shortly after their window closes.
type RedisCounterStore struct {
	Client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{Client: client}
}

func redisCounterKey(actor, actionType string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", redisCounterPrefix, actionType, actor, windowStart.Unix())
}

func (s *RedisCounterStore) CountWindow(ctx context.Context, actor, actionType string, windowStart time.Time) (int, error) {
	if s == nil || s.Client == nil {
		return 0, errors.New("ratelimit: redis client is not configured")
	}

	count, err := s.Client.Get(ctx, redisCounterKey(actor, actionType, windowStart)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *RedisCounterStore) IncrementWindow(ctx context.Context, actor, actionType string, windowStart, windowEnd time.Time) error {
	if s == nil || s.Client == nil {
		return errors.New("ratelimit: redis client is not configured")
	}

	key := redisCounterKey(actor, actionType, windowStart)

	// INCR and EXPIREAT in a single MULTI so a counter never outlives its window
	multi := s.Client.TxPipeline()
	multi.Incr(ctx, key)
	multi.ExpireAt(ctx, key, windowEnd.Add(redisCounterGrace))
	_, err := multi.Exec(ctx)
	return err
}
