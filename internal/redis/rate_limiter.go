package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter caps how often a key may be used within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
	Window() time.Duration
}

// slidingWindow trims expired entries, then admits and records the event only
// while fewer than ARGV[3] remain. Rejected calls leave no trace, so a client
// that keeps polling regains access as soon as its old reads age out.
//
// KEYS[1] key; ARGV: now(ns), window start(ns), limit, member, ttl(ms).
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

type slidingWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns a Redis-backed limiter admitting limit events per
// window for each key. prefix namespaces keys so limiters can share a Redis.
func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}
}

func (r *slidingWindowLimiter) Limit() int { return r.limit }

func (r *slidingWindowLimiter) Window() time.Duration { return r.window }

func (r *slidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixNano()
	start := now - r.window.Nanoseconds()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()[:8]

	res, err := slidingWindow.Run(ctx, r.client, []string{"ratelimit:" + r.prefix + ":" + key},
		now, start, r.limit, member, r.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check for %q: %w", key, err)
	}
	return res == 1, nil
}
