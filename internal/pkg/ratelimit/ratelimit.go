package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpiry atomically increments the window counter and arms the window
// TTL on first use. Doing both in one script avoids the counter-without-expiry
// leak a plain INCR+EXPIRE pair has when the client dies between calls.
var incrWithExpiry = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Result reports the outcome of a rate-limit check.
type Result struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter bounds the rate of an operation per subject key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter implements a fixed-window limiter backed by Redis, safe under
// concurrent increments for the same key.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	window time.Duration
	max    int
}

// NewRedisLimiter creates a limiter allowing max calls per window.
func NewRedisLimiter(client *redis.Client, prefix string, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		window: window,
		max:    max,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	fullKey := fmt.Sprintf("%s:%s", l.prefix, key)
	windowMs := l.window.Milliseconds()

	raw, err := incrWithExpiry.Run(ctx, l.client, []string{fullKey}, windowMs).Result()
	if err != nil {
		return Result{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("unexpected limiter script response: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("unexpected limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Result{}, fmt.Errorf("unexpected limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := time.Duration(math.Ceil(float64(ttlMs)/1000.0)) * time.Second

	return Result{
		Allowed:    int(count) <= l.max,
		Count:      int(count),
		RetryAfter: retryAfter,
	}, nil
}
