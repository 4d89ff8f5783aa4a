// Package tasksync follows a task to its final status over two imperfect
// channels: a push feed that may silently die and a pull endpoint that may
// fail transiently. Updates from both are deduplicated on updated_at and the
// flow surfaces exactly one Outcome.
package tasksync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/retry"
)

const (
	DefaultFallbackAfter = 20 * time.Second
	DefaultHardTimeout   = 120 * time.Second
)

// Synchronizer runs at most one flow at a time. Starting a new flow tears
// down the previous one.
type Synchronizer struct {
	puller        Puller
	pusher        Pusher
	fallbackAfter time.Duration
	hardTimeout   time.Duration
	schedule      retry.Schedule
	onUpdate      func(*domain.Task)
	logger        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithFallbackAfter sets how long push may stay silent before polling takes over.
func WithFallbackAfter(d time.Duration) Option { return func(s *Synchronizer) { s.fallbackAfter = d } }

// WithHardTimeout sets the client-side limit on a whole flow.
func WithHardTimeout(d time.Duration) Option { return func(s *Synchronizer) { s.hardTimeout = d } }

// WithSchedule sets the polling backoff.
func WithSchedule(sc retry.Schedule) Option { return func(s *Synchronizer) { s.schedule = sc } }

// WithOnUpdate registers a callback for every accepted (non-duplicate)
// snapshot. It runs on the flow goroutine and must not block.
func WithOnUpdate(fn func(*domain.Task)) Option { return func(s *Synchronizer) { s.onUpdate = fn } }

func WithLogger(l *slog.Logger) Option { return func(s *Synchronizer) { s.logger = l } }

// New creates a Synchronizer. pusher may be nil, in which case flows poll
// from the start.
func New(puller Puller, pusher Pusher, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		puller:        puller,
		pusher:        pusher,
		fallbackAfter: DefaultFallbackAfter,
		hardTimeout:   DefaultHardTimeout,
		schedule:      retry.PollSchedule,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start resets any running flow and begins following taskID until it reaches
// a final status for expected (extracted or completed). The returned channel
// yields exactly one Outcome, or is closed without one if the flow is reset
// or ctx is cancelled first.
func (s *Synchronizer) Start(ctx context.Context, taskID string, expected domain.Status) <-chan Outcome {
	s.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()

	flowCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	out := make(chan Outcome, 1)
	s.cancel, s.done = cancel, done

	f := &flow{
		Synchronizer: s,
		taskID:       taskID,
		expected:     expected,
		startTime:    time.Now(),
		log:          s.logger.With(slog.String("task_id", taskID)),
		pulls:        make(chan pullResult),
		acks:         make(chan ackResult),
	}
	go func() {
		defer close(done)
		defer close(out)
		defer cancel()
		if o, ok := f.run(flowCtx); ok {
			out <- o
		}
	}()
	return out
}

// Watch runs a flow and blocks until its Outcome. It returns ctx's error if
// ctx ends first, or context.Canceled if the flow is reset from elsewhere.
func (s *Synchronizer) Watch(ctx context.Context, taskID string, expected domain.Status) (Outcome, error) {
	o, ok := <-s.Start(ctx, taskID, expected)
	if !ok {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, context.Canceled
	}
	return o, nil
}

// Reset stops the current flow, closing its subscription and timers, and
// waits for it to exit. Safe to call at any time, including repeatedly.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

type pullResult struct {
	task *domain.Task
	err  error
}

type ackResult struct {
	sub Subscription
	err error
}

type mode int

const (
	modePush mode = iota
	modePoll
)

// flow is the state of one Start call. All fields are owned by the run goroutine.
type flow struct {
	*Synchronizer
	taskID    string
	expected  domain.Status
	startTime time.Time
	log       *slog.Logger

	watermark time.Time
	finalized bool
	last      *domain.Task
	mode      mode

	sub     Subscription
	updates <-chan *domain.Task

	pulls       chan pullResult
	pullPending bool
	pollFails   int
	pollStep    int

	acks chan ackResult

	fallback  *time.Timer
	fallbackC <-chan time.Time
	poll      *time.Timer
	pollC     <-chan time.Time
}

func (f *flow) run(ctx context.Context) (Outcome, bool) {
	hard := time.NewTimer(f.hardTimeout)
	defer hard.Stop()
	defer f.teardown()

	if f.pusher != nil {
		go f.subscribe(ctx)
	} else {
		f.mode = modePoll
	}
	f.pull(ctx)

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, false

		case <-hard.C:
			f.log.Warn("client timeout", slog.Duration("elapsed", time.Since(f.startTime)))
			return f.finalize(Outcome{Kind: ClientTimeout, Task: f.last, Message: msgClientTimeout}), true

		case ack := <-f.acks:
			if ack.err != nil {
				f.log.Warn("push subscribe failed, polling", slog.String("error", ack.err.Error()))
				f.promote(ctx)
				continue
			}
			f.sub, f.updates = ack.sub, ack.sub.Updates()
			if f.mode == modePush {
				f.armFallback()
			}

		case task, ok := <-f.updates:
			if !ok {
				f.log.Warn("push feed closed, polling")
				f.updates = nil
				f.promote(ctx)
				continue
			}
			if o, done := f.accept(task); done {
				return o, true
			}
			// Push is alive: prefer it again and give it a fresh window.
			if f.mode == modePoll {
				f.log.Debug("push resumed, pausing poll")
				f.mode = modePush
				f.stopPoll()
			}
			f.armFallback()

		case <-f.fallbackC:
			f.fallbackC = nil
			f.log.Info("push silent, falling back to polling", slog.Duration("after", f.fallbackAfter))
			f.promote(ctx)

		case <-f.pollC:
			f.pollC = nil
			f.pull(ctx)

		case res := <-f.pulls:
			f.pullPending = false
			if res.err != nil {
				if !Retryable(res.err) {
					f.log.Error("status pull failed permanently", slog.String("error", res.err.Error()))
					return f.finalize(Outcome{Kind: Errored, Task: f.last, Err: res.err, Message: res.err.Error()}), true
				}
				f.pollFails++
				f.log.Warn("status pull failed, retrying",
					slog.Int("consecutive_failures", f.pollFails),
					slog.String("error", res.err.Error()),
				)
				if f.mode == modePoll {
					f.schedulePoll()
				}
				continue
			}
			f.pollFails = 0
			if o, done := f.accept(res.task); done {
				return o, true
			}
			if f.mode == modePoll {
				f.schedulePoll()
			}
		}
	}
}

// accept applies the dedup watermark and finalizes on a final status.
func (f *flow) accept(task *domain.Task) (Outcome, bool) {
	if f.finalized || task == nil {
		return Outcome{}, false
	}
	if !task.UpdatedAt.After(f.watermark) {
		return Outcome{}, false
	}
	f.watermark = task.UpdatedAt
	f.last = task
	if f.onUpdate != nil {
		f.onUpdate(task)
	}
	if !task.Status.IsFinal(f.expected) {
		return Outcome{}, false
	}
	return f.finalize(outcomeFor(task)), true
}

func (f *flow) finalize(o Outcome) Outcome {
	f.finalized = true
	f.teardown()
	return o
}

// promote switches to polling and pulls immediately.
func (f *flow) promote(ctx context.Context) {
	f.stopFallback()
	if f.mode == modePoll {
		return
	}
	f.mode = modePoll
	f.pollStep = 0
	f.stopPoll()
	f.pull(ctx)
}

func (f *flow) pull(ctx context.Context) {
	if f.pullPending {
		return
	}
	f.pullPending = true
	go func() {
		task, err := f.puller.Pull(ctx, f.taskID)
		select {
		case f.pulls <- pullResult{task: task, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (f *flow) subscribe(ctx context.Context) {
	sub, err := f.pusher.Subscribe(ctx, f.taskID)
	select {
	case f.acks <- ackResult{sub: sub, err: err}:
	case <-ctx.Done():
		if sub != nil {
			_ = sub.Close()
		}
	}
}

// schedulePoll waits for the next backoff step. Failed pulls and quiet polls
// both advance the schedule until it caps.
func (f *flow) schedulePoll() {
	f.stopPoll()
	f.poll = time.NewTimer(f.schedule.Delay(f.pollStep))
	f.pollC = f.poll.C
	f.pollStep++
}

func (f *flow) stopPoll() {
	if f.poll != nil {
		f.poll.Stop()
	}
	f.poll, f.pollC = nil, nil
}

func (f *flow) armFallback() {
	f.stopFallback()
	f.fallback = time.NewTimer(f.fallbackAfter)
	f.fallbackC = f.fallback.C
}

func (f *flow) stopFallback() {
	if f.fallback != nil {
		f.fallback.Stop()
	}
	f.fallback, f.fallbackC = nil, nil
}

func (f *flow) teardown() {
	f.stopFallback()
	f.stopPoll()
	if f.sub != nil {
		if err := f.sub.Close(); err != nil {
			f.log.Debug("closing push subscription", slog.String("error", err.Error()))
		}
		f.sub, f.updates = nil, nil
	}
}
