// Package watchdog runs the scheduled reap pass for tasks nobody is polling.
// Status reads reap opportunistically too; this service only covers the gap.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/telemetry"
)

// Reaper fails stale tasks and reports how many it failed.
type Reaper interface {
	ReapTimeouts(ctx context.Context) (int, error)
}

// Elector decides which instance runs the scheduled pass.
type Elector interface {
	AcquireOrRenew(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Service fires the reaper on a cron schedule while it holds leadership.
type Service struct {
	reaper   Reaper
	leader   Elector
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSchedule sets the cron spec, e.g. "@every 30s" or "*/1 * * * *".
func WithSchedule(spec string) Option { return func(s *Service) { s.schedule = spec } }

// WithPassTimeout bounds a single reap pass.
func WithPassTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a Service. leader may be nil for a single-instance deployment.
func NewService(reaper Reaper, leader Elector, opts ...Option) *Service {
	s := &Service{
		reaper:   reaper,
		leader:   leader,
		schedule: "@every 30s",
		timeout:  20 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reaps once immediately, then on every scheduled tick until ctx is
// cancelled. Overlapping ticks are skipped. Leadership is released on exit.
func (s *Service) Run(ctx context.Context) error {
	clog := cronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.schedule, err)
	}

	s.tick(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	if s.leader != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.leader.Release(releaseCtx); err != nil {
			s.logger.Warn("release leadership", slog.String("error", err.Error()))
		}
	}
	return nil
}

// tick runs one reap pass if this instance leads. It reports how many tasks
// were reaped and whether the pass ran.
func (s *Service) tick(ctx context.Context) (int, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	if s.leader != nil {
		ok, err := s.leader.AcquireOrRenew(ctx)
		if err != nil {
			s.logger.Error("leader election", slog.String("error", err.Error()))
			return 0, false
		}
		if !ok {
			s.logger.Debug("not the leader, skipping pass")
			return 0, false
		}
	}

	telemetry.ReapRunsTotal.WithLabelValues("cron").Inc()
	passCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.reaper.ReapTimeouts(passCtx)
	if err != nil {
		s.logger.Error("reap pass failed", slog.String("error", err.Error()))
		return n, true
	}
	s.logger.Info("reap pass finished",
		slog.Int("reaped", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return n, true
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
