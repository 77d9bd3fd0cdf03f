package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisLimiter is a fixed-window limiter shared by every replica.
// When Redis is unreachable requests are let through and the error is logged.
type RedisLimiter struct {
	rdb     *redis.Client
	prefix  string
	window  time.Duration
	maxReqs int
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// NewRedisLimiter creates a limiter storing counters under prefix.
// If prefix is empty "phonegate:rl:" is used.
func NewRedisLimiter(rdb *redis.Client, prefix string, window time.Duration, maxReqs int) *RedisLimiter {
	if prefix == "" {
		prefix = "phonegate:rl:"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, window: window, maxReqs: maxReqs}
}

func (l *RedisLimiter) key(k string) string { return l.prefix + k }

// Allow counts the request and reports whether the window still has room.
// INCR and EXPIRE NX run in one MULTI, so the first hit opens the window and a
// counter that somehow lost its TTL gets one back on the next hit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, l.key(key))
	pipe.ExpireNX(ctx, l.key(key), l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("redis limiter unavailable, allowing request")
		return true
	}

	return incr.Val() <= int64(l.maxReqs)
}
