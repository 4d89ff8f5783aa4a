package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
)

func newBenchClient(b *testing.B) *redis.Client {
	b.Helper()
	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { client.Close() }) //nolint:errcheck
	return client
}

// BenchmarkRateLimiter_Allow measures one sliding-window check per status poll.
func BenchmarkRateLimiter_Allow(b *testing.B) {
	limiter := redisstore.NewRateLimiter(newBenchClient(b), "status", 1<<30, time.Minute)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := limiter.Allow(ctx, fmt.Sprintf("task-%d", i%64)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLeader_AcquireOrRenew measures the watchdog's per-tick lease check.
func BenchmarkLeader_AcquireOrRenew(b *testing.B) {
	leader := redisstore.NewLeader(newBenchClient(b), "bench:leader", "bench", time.Minute)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := leader.AcquireOrRenew(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
