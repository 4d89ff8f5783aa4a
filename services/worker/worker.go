package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/heartbeat"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/kafka"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/providers"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/retry"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/telemetry"
)

// Lifecycle is the subset of lifecycle.Manager the worker drives.
type Lifecycle interface {
	Get(ctx context.Context, id string) (*domain.Task, error)
	Claim(ctx context.Context, id string) (*domain.Task, error)
	Advance(ctx context.Context, tr domain.Transition) (*domain.Task, error)
	Fail(ctx context.Context, req domain.FailRequest) (*domain.Task, bool, error)
}

// Worker consumes job messages and runs the extraction and translation pipeline.
type Worker struct {
	consumer   kafka.Consumer
	tasks      Lifecycle
	beats      *heartbeat.Emitter
	extractor  providers.Extractor
	translator providers.Translator

	workerID     string
	maxRetries   int
	baseDelay    time.Duration
	callTimeout  time.Duration
	taskTimeout  time.Duration
	beatInterval time.Duration
	logger       *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithRetries(n int) Option             { return func(w *Worker) { w.maxRetries = n } }
func WithBaseDelay(d time.Duration) Option { return func(w *Worker) { w.baseDelay = d } }
func WithLogger(l *slog.Logger) Option     { return func(w *Worker) { w.logger = l } }

// WithCallTimeout bounds a single provider attempt.
func WithCallTimeout(d time.Duration) Option { return func(w *Worker) { w.callTimeout = d } }

// WithTaskTimeout bounds a whole pipeline run.
func WithTaskTimeout(d time.Duration) Option { return func(w *Worker) { w.taskTimeout = d } }

// WithBeatInterval sets how often a long provider call refreshes the task.
// It must stay well below the watchdog's max task time.
func WithBeatInterval(d time.Duration) Option { return func(w *Worker) { w.beatInterval = d } }

// NewWorker constructs a Worker with the given dependencies and options.
func NewWorker(
	workerID string,
	consumer kafka.Consumer,
	tasks Lifecycle,
	beats *heartbeat.Emitter,
	extractor providers.Extractor,
	translator providers.Translator,
	opts ...Option,
) *Worker {
	w := &Worker{
		workerID:     workerID,
		consumer:     consumer,
		tasks:        tasks,
		beats:        beats,
		extractor:    extractor,
		translator:   translator,
		maxRetries:   2,
		baseDelay:    time.Second,
		callTimeout:  60 * time.Second,
		taskTimeout:  10 * time.Minute,
		beatInterval: 20 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts consuming and processing messages. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Subscribe(ctx, w.processMessage)
}

// Wait blocks until all in-flight tasks finish. Call after Run returns.
func (w *Worker) Wait() { w.wg.Wait() }

// processMessage is the Kafka HandlerFunc. Pipeline failures are recorded on
// the task and the offset is committed. Only a failure to read or claim the
// task returns an error, so the job is redelivered.
func (w *Worker) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var job kafka.JobMessage
	if err := json.Unmarshal(msg.Value, &job); err != nil || job.TaskID == "" {
		if err == nil {
			err = errors.New("missing task_id")
		}
		return fmt.Errorf("malformed job message: %v: %w", err, kafka.ErrDiscard)
	}

	ctx, span := otel.Tracer("worker").Start(consumerCtx, "worker.process_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", job.TaskID),
		attribute.String("task.phase", string(job.Phase)),
		attribute.String("worker.id", w.workerID),
	)

	log := w.logger.With(
		slog.String("task_id", job.TaskID),
		slog.String("phase", string(job.Phase)),
	)

	task, err := w.acquire(ctx, job)
	if err != nil {
		if skip(err) {
			log.Info("job no longer applies, skipping", slog.String("reason", err.Error()))
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("acquire task %s: %w", job.TaskID, err)
	}

	w.wg.Add(1)
	w.inFlight.Add(1)
	telemetry.WorkerTasksInFlight.Inc()
	defer func() {
		telemetry.WorkerTasksInFlight.Dec()
		w.inFlight.Add(-1)
		w.wg.Done()
	}()

	// The run outlives consumer shutdown so a claimed task is not abandoned
	// mid-phase; spans stay parented to this message.
	runCtx, cancel := context.WithTimeout(trace.ContextWithSpan(context.Background(), span), w.taskTimeout)
	defer cancel()

	start := time.Now()
	var final *domain.Task
	switch job.Phase {
	case kafka.PhaseTranslate:
		final, err = w.translate(runCtx, task)
	default:
		final, err = w.extract(runCtx, task)
	}

	if err != nil {
		log.Error("pipeline failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		w.fail(runCtx, log, task.ID, err)
		return nil
	}

	log.Info("pipeline finished",
		slog.String("status", string(final.Status)),
		slog.Duration("elapsed", time.Since(start)),
	)
	telemetry.WorkerTasksProcessed.WithLabelValues(string(final.Status)).Inc()
	return nil
}

// acquire claims a pending task for extraction or checks that a translate
// job still matches the row.
func (w *Worker) acquire(ctx context.Context, job kafka.JobMessage) (*domain.Task, error) {
	switch job.Phase {
	case kafka.PhaseExtract, "":
		return w.tasks.Claim(ctx, job.TaskID)
	case kafka.PhaseTranslate:
		task, err := w.tasks.Get(ctx, job.TaskID)
		if err != nil {
			return nil, err
		}
		if task.Status != domain.StatusTranslating {
			return nil, &domain.InvalidTransitionError{TaskID: task.ID, From: task.Status, To: domain.StatusCompleted}
		}
		return task, nil
	}
	return nil, fmt.Errorf("unknown phase %q: %w", job.Phase, kafka.ErrDiscard)
}

// skip reports whether an acquire error means the job is stale or duplicated.
func skip(err error) bool {
	var (
		notFound *domain.TaskNotFoundError
		terminal *domain.TaskTerminalError
		invalid  *domain.InvalidTransitionError
	)
	return errors.As(err, &notFound) || errors.As(err, &terminal) || errors.As(err, &invalid)
}

func (w *Worker) extract(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	w.beats.Progress(ctx, task.ID, 10)

	var md *providers.Metadata
	err := w.call(ctx, task.ID, "metadata", func(callCtx context.Context) (err error) {
		md, err = w.extractor.Metadata(callCtx, task.SourceURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}
	task, err = w.checkpoint(ctx, task.ID, domain.StatusProcessing, domain.Patch{
		Progress:     intPtr(30),
		Title:        &md.Title,
		Author:       &md.Author,
		DurationSec:  &md.DurationSec,
		ThumbnailURL: &md.ThumbnailURL,
		Language:     &md.Language,
	})
	if err != nil {
		return nil, err
	}

	if task.OutputType == domain.OutputVideo {
		var asset *providers.VideoAsset
		err := w.call(ctx, task.ID, "download", func(callCtx context.Context) (err error) {
			asset, err = w.extractor.DownloadVideo(callCtx, task.SourceURL)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("download video: %w", err)
		}
		return w.checkpoint(ctx, task.ID, domain.StatusCompleted, domain.Patch{
			Progress:         intPtr(100),
			VideoURLInternal: &asset.URL,
			ExpiresAt:        &asset.ExpiresAt,
		})
	}

	var subs string
	err = w.call(ctx, task.ID, "subtitles", func(callCtx context.Context) (err error) {
		subs, err = w.extractor.Subtitles(callCtx, task.SourceURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("extract subtitles: %w", err)
	}

	if task.ExtractionOnly() {
		return w.checkpoint(ctx, task.ID, domain.StatusExtracted, domain.Patch{
			Progress:    intPtr(100),
			SubtitleRaw: &subs,
		})
	}
	task, err = w.checkpoint(ctx, task.ID, domain.StatusProcessing, domain.Patch{
		Progress:    intPtr(60),
		SubtitleRaw: &subs,
	})
	if err != nil {
		return nil, err
	}
	return w.finishText(ctx, task)
}

// translate runs the paid translation phase of an extracted subtitle task.
func (w *Worker) translate(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	w.beats.Progress(ctx, task.ID, 10)
	return w.finishText(ctx, task)
}

// finishText applies the requested translation and rewrite to SubtitleRaw and
// completes the task.
func (w *Worker) finishText(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if task.SubtitleRaw == nil {
		return nil, &domain.MissingPayloadError{TaskID: task.ID, Status: domain.StatusCompleted, Fields: []string{"subtitle_raw"}}
	}
	source := *task.SubtitleRaw
	var patch domain.Patch

	if task.TargetLanguage != "" {
		var translated string
		err := w.call(ctx, task.ID, "translate", func(callCtx context.Context) (err error) {
			translated, err = w.translator.Translate(callCtx, source, task.TargetLanguage)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("translate subtitles: %w", err)
		}
		patch.SubtitleTranslated = &translated
		source = translated
		w.beats.Progress(ctx, task.ID, 80)
	}

	if task.Rewrite {
		var rewritten string
		err := w.call(ctx, task.ID, "rewrite", func(callCtx context.Context) (err error) {
			rewritten, err = w.translator.Rewrite(callCtx, source)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("rewrite subtitles: %w", err)
		}
		patch.SubtitleRewritten = &rewritten
		w.beats.Progress(ctx, task.ID, 90)
	}

	patch.Progress = intPtr(100)
	return w.checkpoint(ctx, task.ID, domain.StatusCompleted, patch)
}

// call runs one provider phase with retries, keeping the task alive for as
// long as it takes.
func (w *Worker) call(ctx context.Context, taskID, phase string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "worker.phase."+phase)
	defer span.End()

	stop := w.beats.KeepAlive(ctx, taskID, w.beatInterval)
	defer stop()

	start := time.Now()
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: w.maxRetries + 1,
		BaseDelay:   w.baseDelay,
		Retryable:   providers.Retryable,
		OnRetry: func(attempt int, err error) {
			w.logger.Warn("provider call failed, retrying",
				slog.String("task_id", taskID),
				slog.String("phase", phase),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
		defer cancel()
		return fn(callCtx)
	})
	telemetry.WorkerPhaseDurationSeconds.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider phase failed")
	}
	return err
}

// checkpoint persists a phase's output. Every checkpoint is also a heartbeat.
func (w *Worker) checkpoint(ctx context.Context, taskID string, to domain.Status, patch domain.Patch) (*domain.Task, error) {
	task, err := w.tasks.Advance(ctx, domain.Transition{TaskID: taskID, To: to, Patch: patch})
	if err != nil {
		return nil, fmt.Errorf("advance to %s: %w", to, err)
	}
	return task, nil
}

// fail records a pipeline error on the task. If the store is unreachable the
// watchdog eventually times the task out instead.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, taskID string, cause error) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	task, applied, err := w.tasks.Fail(failCtx, domain.NewProcessingFailure(taskID, cause))
	switch {
	case err != nil:
		log.Error("failed to record pipeline failure", slog.String("error", err.Error()))
	case !applied:
		log.Info("task already finished, failure not recorded", slog.String("status", string(task.Status)))
	default:
		telemetry.WorkerTasksProcessed.WithLabelValues(string(domain.StatusFailed)).Inc()
	}
}

func intPtr(v int) *int { return &v }
