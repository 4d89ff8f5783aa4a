package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the lease only when this instance still owns it.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// releaseScript deletes the lease only when this instance still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Leader is a Redis lease used to run a periodic job on one replica at a time.
type Leader struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewLeader creates a lease on key held for ttl by instanceID.
func NewLeader(client *redis.Client, key, instanceID string, ttl time.Duration) *Leader {
	return &Leader{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

// AcquireOrRenew returns true if this instance holds the lease after the call.
func (l *Leader) AcquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader SetNX %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}

	result, err := renewScript.Run(ctx, l.client, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("leader renew %s: %w", l.key, err)
	}
	return result == 1, nil
}

// Release gives the lease up so another replica can take over immediately.
func (l *Leader) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.instanceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("leader release %s: %w", l.key, err)
	}
	return nil
}

func (l *Leader) InstanceID() string { return l.instanceID }
