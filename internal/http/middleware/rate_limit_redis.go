package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var errNilRedisClient = errors.New("redis client is nil")

// redisWindowCounter keeps one counter per client under prefix:key. The
// counter is created with the window as its expiry and INCR leaves that
// expiry alone, so every API instance sees the same window.
type redisWindowCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisFixedWindowLimiter returns a Limiter whose windows are shared
// through Redis.
func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return counterLimiter{counter: &redisWindowCounter{client: client, prefix: prefix}}
}

func (c *redisWindowCounter) hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if c.client == nil {
		return 0, 0, errNilRedisClient
	}
	storeKey := c.prefix + ":" + key

	pipe := c.client.TxPipeline()
	pipe.SetNX(ctx, storeKey, 0, window)
	incr := pipe.Incr(ctx, storeKey)
	ttl := pipe.PTTL(ctx, storeKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return incr.Val(), ttl.Val(), nil
}
