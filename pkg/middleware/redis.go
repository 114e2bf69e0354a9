package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter counts requests per fixed window in Redis so replicas share
// one limit. BurstSize is not used.
type RedisLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		redis:  client,
		config: config,
		prefix: prefix,
	}
}

// Allow increments the window counter of key.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}
	ttl, err := rl.redis.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}
	// A counter without expiry starts a new window.
	if count == 1 || ttl < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Decision{Allowed: true}, fmt.Errorf("redis error: %w", err)
		}
		ttl = rl.config.WindowDuration
	}

	return Decision{
		Allowed:   count <= int64(rl.config.RequestsPerWindow),
		Limit:     rl.config.RequestsPerWindow,
		Remaining: max(rl.config.RequestsPerWindow-int(count), 0),
		Reset:     time.Now().Add(ttl),
	}, nil
}

// Reset clears the counter of key.
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}
