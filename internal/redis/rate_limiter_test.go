package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_RejectedReadsAreNotRecorded(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(client, "status", 2, time.Minute).(*slidingWindowLimiter)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	allow := func() bool {
		ok, err := l.Allow(ctx, "task-1")
		require.NoError(t, err)
		return ok
	}

	assert.True(t, allow())
	assert.True(t, allow())
	clock = clock.Add(time.Second)
	for i := 0; i < 5; i++ {
		assert.False(t, allow())
	}
	n, err := client.ZCard(ctx, "ratelimit:status:task-1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	clock = clock.Add(time.Minute)
	assert.True(t, allow(), "admitted again once the first reads leave the window")
}

func TestSlidingWindow_KeyExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	l := NewRateLimiter(client, "status", 1, 30*time.Second)
	ok, err := l.Allow(context.Background(), "task-9")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists("ratelimit:status:task-9"))
}
