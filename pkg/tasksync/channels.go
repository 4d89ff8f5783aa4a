package tasksync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
)

// Puller reads the current task row on demand.
type Puller interface {
	Pull(ctx context.Context, taskID string) (*domain.Task, error)
}

// Subscription is a live push feed. Updates is closed when the feed dies.
type Subscription interface {
	Updates() <-chan *domain.Task
	Close() error
}

// Pusher opens push feeds. Subscribe returns once the server has
// acknowledged the subscription.
type Pusher interface {
	Subscribe(ctx context.Context, taskID string) (Subscription, error)
}

// StatusError is a non-2xx response from the status endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status endpoint returned %d", e.Code)
	}
	return fmt.Sprintf("status endpoint returned %d: %s", e.Code, e.Body)
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// Retryable reports whether a pull error should be retried on the backoff
// schedule: timeouts, transport failures, 408, 429 and 5xx responses.
func Retryable(err error) bool {
	var te transientError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
