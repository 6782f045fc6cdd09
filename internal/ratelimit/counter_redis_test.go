package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisCounterStoreLive(t *testing.T) {
	url := os.Getenv("MOLTGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("live test, set MOLTGUARD_TEST_REDIS_URL to run against redis")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisCounterStore(client)
	start := time.Now().Truncate(time.Hour)
	end := start.Add(time.Hour)
	actor := "redis-live-" + t.Name()
	t.Cleanup(func() { client.Del(ctx, redisCounterKey(actor, "post", start)) })

	for i := 0; i < 3; i++ {
		if err := store.IncrementWindow(ctx, actor, "post", start, end); err != nil {
			t.Fatalf("IncrementWindow: %v", err)
		}
	}

	count, err := store.CountWindow(ctx, actor, "post", start)
	if err != nil {
		t.Fatalf("CountWindow: %v", err)
	}
	if count != 3 {
		t.Fatalf("CountWindow = %d, want 3", count)
	}

	ttl, err := client.TTL(ctx, redisCounterKey(actor, "post", start)).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("counter has no expiry (ttl %v)", ttl)
	}
}
