// Package ratelimit implements the per-agent request throttle in front of
// the tool surface: a Redis-backed sliding-window counter, adapted from
// the teacher's pkg/rate.RedisLimiter (there generic identifier-keyed
// throttling behind a pluggable Limiter interface; here narrowed to the
// one window/limit pair the surface needs, key derived from the caller's
// agent id instead of a caller-supplied string).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript mirrors the teacher's Lua script: it atomically
// evicts entries older than the window, counts what's left, and either
// rejects or records the new request, all in one round trip.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, math.ceil(window / 1e6))
return limit - count
`

// Limiter enforces a fixed requests-per-window budget per agent id.
type Limiter struct {
	client    *redis.Client
	window    time.Duration
	limit     int64
	keyPrefix string
}

// New builds a Limiter against a Redis instance at addr, allowing limit
// requests per window per agent id. addr may point at a real Redis
// server or, in tests, a github.com/alicebob/miniredis/v2 instance.
func New(addr string, window time.Duration, limit int64) *Limiter {
	return &Limiter{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		window:    window,
		limit:     limit,
		keyPrefix: "mcp:ratelimit",
	}
}

// Allow reports whether agentID may proceed, and if not, how long until
// the window has room again.
func (l *Limiter) Allow(ctx context.Context, agentID string) (bool, time.Duration, error) {
	key := l.key(agentID)
	now := time.Now().UnixNano()

	result, err := l.client.Eval(ctx, slidingWindowScript, []string{key}, now, l.window.Nanoseconds(), l.limit).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}

	remaining, ok := result.(int64)
	if !ok || remaining <= 0 {
		return false, l.window, nil
	}
	return true, 0, nil
}

// Reset clears agentID's window, used by tests and admin tooling.
func (l *Limiter) Reset(ctx context.Context, agentID string) error {
	return l.client.Del(ctx, l.key(agentID)).Err()
}

// Close releases the underlying Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}

func (l *Limiter) key(agentID string) string {
	return fmt.Sprintf("%s:%s", l.keyPrefix, agentID)
}
