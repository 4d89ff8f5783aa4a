package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func sessionKey(sessionID string) string { return "session:" + sessionID }

// ErrSessionNotFound is returned when a session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session is the server-side record behind a bearer token.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// SessionStore reads sessions issued by the authentication service.
type SessionStore interface {
	Lookup(ctx context.Context, sessionID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
}

type sessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a Redis-backed SessionStore.
func NewSessionStore(client *redis.Client) SessionStore {
	return &sessionStore{client: client}
}

func (s *sessionStore) Lookup(ctx context.Context, sessionID string) (*Session, error) {
	h, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", sessionID, err)
	}
	if len(h) == 0 {
		return nil, ErrSessionNotFound
	}
	exp, err := time.Parse(time.RFC3339, h["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("session %s expires_at: %w", sessionID, err)
	}
	if !time.Now().Before(exp) {
		return nil, ErrSessionNotFound
	}
	return &Session{ID: sessionID, UserID: h["user_id"], ExpiresAt: exp}, nil
}

func (s *sessionStore) Put(ctx context.Context, sess *Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}
	key := sessionKey(sess.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"user_id":    sess.UserID,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put session %s: %w", sess.ID, err)
	}
	return nil
}
