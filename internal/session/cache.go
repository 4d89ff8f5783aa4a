// Package session caches session lookups in front of the session store.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
)

// ErrUnavailable wraps store failures, including timeouts. Callers that only
// need the session for a non-critical check may proceed without it.
var ErrUnavailable = errors.New("session store unavailable")

// Cache is a bounded, TTL-expiring cache of live sessions. Entries are swept
// in the background by the LRU; Close drops them all.
type Cache struct {
	store   redisstore.SessionStore
	entries *expirable.LRU[string, *redisstore.Session]
	timeout time.Duration
	now     func() time.Time
}

// NewCache creates a cache holding at most size sessions for up to ttl each.
// Every store lookup gets timeout to complete.
func NewCache(store redisstore.SessionStore, size int, ttl, timeout time.Duration) *Cache {
	return &Cache{
		store:   store,
		entries: expirable.NewLRU[string, *redisstore.Session](size, nil, ttl),
		timeout: timeout,
		now:     time.Now,
	}
}

// GetOrRefresh returns the session for id, loading it from the store on a
// miss or once the cached copy has passed its own expiry.
// redisstore.ErrSessionNotFound means the session is gone; an error wrapping
// ErrUnavailable means the answer is unknown.
func (c *Cache) GetOrRefresh(ctx context.Context, id string) (*redisstore.Session, error) {
	if s, ok := c.entries.Get(id); ok {
		if c.now().Before(s.ExpiresAt) {
			return s, nil
		}
		c.entries.Remove(id)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	s, err := c.store.Lookup(lookupCtx, id)
	if err != nil {
		if errors.Is(err, redisstore.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	c.entries.Add(id, s)
	return s, nil
}

// Invalidate forgets id, for example after logout.
func (c *Cache) Invalidate(id string) { c.entries.Remove(id) }

func (c *Cache) Len() int { return c.entries.Len() }

// Close purges every entry. The cache must not be used afterwards.
func (c *Cache) Close() { c.entries.Purge() }
