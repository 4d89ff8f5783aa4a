// Package heartbeat keeps a processing task visibly alive to the watchdog.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/telemetry"
)

// Toucher is the store write a heartbeat performs.
type Toucher interface {
	Touch(ctx context.Context, id string, progress *int) (*domain.Task, error)
}

// Emitter writes best-effort liveness updates. A failed beat is logged and
// counted but never interrupts the work it accompanies.
type Emitter struct {
	store   Toucher
	timeout time.Duration
	logger  *slog.Logger
}

// NewEmitter creates an Emitter whose writes each get timeout to complete.
func NewEmitter(store Toucher, timeout time.Duration, logger *slog.Logger) *Emitter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, timeout: timeout, logger: logger}
}

// Beat refreshes the task's updated_at, raising progress when given.
// It reports whether the write landed.
func (e *Emitter) Beat(ctx context.Context, taskID string, progress *int) bool {
	beatCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if _, err := e.store.Touch(beatCtx, taskID, progress); err != nil {
		telemetry.HeartbeatFailures.Inc()
		e.logger.Warn("heartbeat failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Progress is shorthand for Beat with a progress value.
func (e *Emitter) Progress(ctx context.Context, taskID string, progress int) bool {
	return e.Beat(ctx, taskID, &progress)
}

// KeepAlive beats every interval until stop is called or ctx is done. Use it
// around a single long call that cannot report progress itself. interval must
// stay well below the watchdog's max task time.
func (e *Emitter) KeepAlive(ctx context.Context, taskID string, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Beat(ctx, taskID, nil)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
