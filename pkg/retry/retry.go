package retry

import (
	"context"
	"fmt"
	"time"
)

// Schedule is a list of waits indexed by attempt. Attempts past the end reuse
// the last step, so the final entry acts as a cap.
type Schedule []time.Duration

// PollSchedule is the client-side backoff for status polling.
var PollSchedule = Schedule{2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}

// Delay returns the wait after the n-th failure (0-indexed).
func (s Schedule) Delay(n int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n >= len(s) {
		return s[len(s)-1]
	}
	return s[n]
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// BaseDelay is the base for quadratic backoff. Wait = BaseDelay * attempt².
	// Ignored when Schedule is set.
	BaseDelay time.Duration
	// Schedule, when set, gives the wait after each failed attempt.
	Schedule Schedule
	// Retryable reports whether err is worth another attempt. nil retries everything.
	Retryable func(err error) bool
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

func (c Config) delay(attempt int) time.Duration {
	if len(c.Schedule) > 0 {
		return c.Schedule.Delay(attempt - 1)
	}
	return c.BaseDelay * time.Duration(attempt*attempt)
}

// Do calls fn up to cfg.MaxAttempts times.
//
// Wait schedule with BaseDelay=1s and no Schedule:
//   attempt 1 fails → wait 1s  (1² × 1s)
//   attempt 2 fails → wait 4s  (2² × 1s)
//   attempt 3 fails → wait 9s  (3² × 1s)
//
// Returns nil on first success, the first non-retryable error, or the last
// error after all attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
