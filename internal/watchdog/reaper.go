// Package watchdog fails tasks whose processor stopped reporting progress.
//
// A processor killed mid-task runs no cleanup, so liveness is inferred
// passively: a task whose updated_at has not moved for longer than
// MaxTaskTime is presumed dead.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/telemetry"
)

// DefaultMaxTaskTime is how long a processing task may go without a write.
const DefaultMaxTaskTime = 90 * time.Second

// StaleLister finds candidate tasks.
type StaleLister interface {
	ListStale(ctx context.Context, statuses []domain.Status, before time.Time, limit int) ([]*domain.Task, error)
}

// Failer applies a fail request and any refund it implies.
type Failer interface {
	Fail(ctx context.Context, req domain.FailRequest) (*domain.Task, bool, error)
}

// Reaper scans for and fails stale tasks.
type Reaper struct {
	lister      StaleLister
	failer      Failer
	maxTaskTime time.Duration
	statuses    []domain.Status
	batch       int
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

func WithMaxTaskTime(d time.Duration) Option { return func(r *Reaper) { r.maxTaskTime = d } }
func WithBatchSize(n int) Option             { return func(r *Reaper) { r.batch = n } }
func WithClock(now func() time.Time) Option  { return func(r *Reaper) { r.now = now } }
func WithLogger(l *slog.Logger) Option       { return func(r *Reaper) { r.logger = l } }

// WithStatuses sets which statuses are eligible for reaping. Only processing
// is reaped by default.
func WithStatuses(ss ...domain.Status) Option { return func(r *Reaper) { r.statuses = ss } }

// NewReaper creates a Reaper.
func NewReaper(lister StaleLister, failer Failer, opts ...Option) *Reaper {
	r := &Reaper{
		lister:      lister,
		failer:      failer,
		maxTaskTime: DefaultMaxTaskTime,
		statuses:    []domain.Status{domain.StatusProcessing},
		batch:       500,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reaper) MaxTaskTime() time.Duration { return r.maxTaskTime }

// ReapTimeouts fails every eligible task whose updated_at is older than
// now - MaxTaskTime and returns how many it failed. Each write re-checks the
// staleness predicate, so a heartbeat that lands after the scan keeps its task
// alive. Per-task errors are logged and skipped; only a failed scan is
// returned as an error.
func (r *Reaper) ReapTimeouts(ctx context.Context) (int, error) {
	threshold := r.now().Add(-r.maxTaskTime)

	stale, err := r.lister.ListStale(ctx, r.statuses, threshold, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale tasks: %w", err)
	}

	reaped := 0
	for _, task := range stale {
		if ctx.Err() != nil {
			break
		}
		log := r.logger.With(
			slog.String("task_id", task.ID),
			slog.Time("updated_at", task.UpdatedAt),
		)

		_, applied, err := r.failer.Fail(ctx, domain.NewTimeoutFailure(task.ID, threshold, r.maxTaskTime))
		if err != nil {
			log.Error("reap failed", slog.String("error", err.Error()))
			continue
		}
		if !applied {
			log.Debug("task recovered or finished before reap")
			continue
		}
		reaped++
		log.Warn("reaped stale task", slog.Duration("max_task_time", r.maxTaskTime))
	}

	if reaped > 0 {
		telemetry.TasksReaped.Add(float64(reaped))
	}
	return reaped, nil
}
