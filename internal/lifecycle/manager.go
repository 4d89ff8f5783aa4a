// Package lifecycle owns every status change a task goes through. It is the
// only writer that couples the failed state to the credit ledger.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/kafka"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/postgres"
	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/telemetry"
)

// Costs is the credit price of each paid phase.
type Costs struct {
	Subtitle  int
	Video     int
	Translate int
}

// DefaultCosts is used when no costs are configured.
var DefaultCosts = Costs{Subtitle: 10, Video: 15, Translate: 5}

func (c Costs) forOutput(o domain.OutputType) int {
	if o == domain.OutputVideo {
		return c.Video
	}
	return c.Subtitle
}

// Manager applies task transitions and their side effects.
type Manager struct {
	repo      postgres.TaskRepository
	ledger    postgres.Ledger
	updates   redisstore.UpdatePublisher
	producer  kafka.Producer
	costs     Costs
	opTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithUpdatePublisher(p redisstore.UpdatePublisher) Option { return func(m *Manager) { m.updates = p } }
func WithProducer(p kafka.Producer) Option                    { return func(m *Manager) { m.producer = p } }
func WithCosts(c Costs) Option                                { return func(m *Manager) { m.costs = c } }
func WithLogger(l *slog.Logger) Option                        { return func(m *Manager) { m.logger = l } }

// WithOpTimeout bounds each side-effect call (refund, publish).
func WithOpTimeout(d time.Duration) Option { return func(m *Manager) { m.opTimeout = d } }

// NewManager constructs a Manager. Publishing is skipped when no publisher or
// producer is configured.
func NewManager(repo postgres.TaskRepository, ledger postgres.Ledger, opts ...Option) *Manager {
	m := &Manager{
		repo:      repo,
		ledger:    ledger,
		costs:     DefaultCosts,
		opTimeout: 3 * time.Second,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubmitRequest is a validated request for a new task.
type SubmitRequest struct {
	UserID         string
	SourceURL      string
	OutputType     domain.OutputType
	TargetLanguage string
	Rewrite        bool
}

// Submit debits the user, creates a pending task and enqueues it. The debit is
// refunded if the task row cannot be created.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error) {
	if err := domain.ValidateSourceURL(req.SourceURL); err != nil {
		return nil, err
	}
	if !req.OutputType.Valid() {
		return nil, &domain.ValidationError{Field: "output_type", Reason: fmt.Sprintf("unsupported value %q", req.OutputType)}
	}

	creditID, err := m.ledger.Consume(ctx, req.UserID, m.costs.forOutput(req.OutputType), string(req.OutputType))
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Status:         domain.StatusPending,
		OutputType:     req.OutputType,
		CreditID:       &creditID,
		SourceURL:      req.SourceURL,
		TargetLanguage: req.TargetLanguage,
		Rewrite:        req.Rewrite,
	}
	if err := m.repo.Create(ctx, task); err != nil {
		m.refund(task.ID, creditID)
		return nil, fmt.Errorf("create task: %w", err)
	}
	telemetry.APITasksSubmitted.WithLabelValues(string(task.OutputType)).Inc()
	m.broadcast(ctx, task)

	if err := m.enqueue(ctx, task.ID, kafka.PhaseExtract); err != nil {
		m.abandon(ctx, task.ID, err)
		return nil, err
	}
	return task, nil
}

// Get returns the current row.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Task, error) {
	return m.repo.GetByID(ctx, id)
}

// Claim moves a pending task to processing for the worker that received it.
func (m *Manager) Claim(ctx context.Context, id string) (*domain.Task, error) {
	return m.Advance(ctx, domain.Transition{
		TaskID: id,
		From:   []domain.Status{domain.StatusPending},
		To:     domain.StatusProcessing,
	})
}

// Advance validates and applies a success transition. Moves into extracted or
// completed are refused with a MissingPayloadError unless the resulting row
// carries the payload a client needs. Success transitions never touch the ledger.
func (m *Manager) Advance(ctx context.Context, tr domain.Transition) (*domain.Task, error) {
	current, err := m.repo.GetByID(ctx, tr.TaskID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, &domain.TaskTerminalError{TaskID: tr.TaskID, Status: current.Status}
	}
	if !domain.CanTransition(current.Status, tr.To) {
		return nil, &domain.InvalidTransitionError{TaskID: tr.TaskID, From: current.Status, To: tr.To}
	}
	if len(tr.From) == 0 {
		tr.From = []domain.Status{current.Status}
	}

	preview := current.Clone()
	tr.Patch.Apply(preview)
	if err := domain.RequiredFor(preview, tr.To); err != nil {
		return nil, err
	}

	task, err := m.repo.Advance(ctx, tr)
	if err != nil {
		return nil, err
	}
	m.broadcast(ctx, task)
	if task.Status.IsFinal(task.ExpectedFinal()) {
		m.emit(ctx, task, "", false)
	}
	return task, nil
}

// Touch refreshes a task's liveness timestamp and optionally raises its progress.
func (m *Manager) Touch(ctx context.Context, id string, progress *int) (*domain.Task, error) {
	task, err := m.repo.Touch(ctx, id, progress)
	if err != nil {
		return nil, err
	}
	m.broadcast(ctx, task)
	return task, nil
}

// Fail applies req unless the task is already terminal. applied reports
// whether this call was the winning writer. Only the winner refunds, and only
// when the row carries a credit id. Refund and publish errors are logged and
// never returned.
func (m *Manager) Fail(ctx context.Context, req domain.FailRequest) (task *domain.Task, applied bool, err error) {
	task, applied, err = m.repo.Fail(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		m.logger.Debug("fail request lost the race",
			slog.String("task_id", req.TaskID),
			slog.String("cause", string(req.Cause)),
			slog.String("status", string(task.Status)),
		)
		return task, false, nil
	}

	telemetry.TasksFailed.WithLabelValues(string(req.Cause)).Inc()
	m.logger.Info("task failed",
		slog.String("task_id", task.ID),
		slog.String("cause", string(req.Cause)),
	)

	refunded := false
	if task.CreditID != nil && *task.CreditID != "" {
		refunded = m.refund(task.ID, *task.CreditID)
	}
	m.broadcast(ctx, task)
	m.emit(ctx, task, req.Cause, refunded)
	return task, true, nil
}

// StartTranslation charges for and enters the translating phase of an
// extracted subtitle task owned by userID.
func (m *Manager) StartTranslation(ctx context.Context, id, userID, targetLanguage string) (*domain.Task, error) {
	if targetLanguage == "" {
		return nil, &domain.ValidationError{Field: "target_language", Reason: "required"}
	}
	current, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	if current.OutputType != domain.OutputSubtitle || current.Status != domain.StatusExtracted {
		return nil, &domain.InvalidTransitionError{TaskID: id, From: current.Status, To: domain.StatusTranslating}
	}

	creditID, err := m.ledger.Consume(ctx, userID, m.costs.Translate, "translate")
	if err != nil {
		return nil, err
	}
	task, err := m.Advance(ctx, domain.Transition{
		TaskID: id,
		From:   []domain.Status{domain.StatusExtracted},
		To:     domain.StatusTranslating,
		Patch:  domain.Patch{CreditID: &creditID, TargetLanguage: &targetLanguage},
	})
	if err != nil {
		m.refund(id, creditID)
		return nil, err
	}
	if err := m.enqueue(ctx, id, kafka.PhaseTranslate); err != nil {
		m.abandon(ctx, id, err)
		return nil, err
	}
	return task, nil
}

// refund makes one refund attempt with its own timeout. It reports whether
// credits were returned by this call.
func (m *Manager) refund(taskID, creditID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.opTimeout)
	defer cancel()

	log := m.logger.With(slog.String("task_id", taskID), slog.String("credit_id", creditID))
	refunded, err := m.ledger.Refund(ctx, creditID)
	switch {
	case err != nil:
		telemetry.RefundsTotal.WithLabelValues("error").Inc()
		var notFound *domain.CreditEntryNotFoundError
		if errors.As(err, &notFound) {
			log.Warn("refund skipped: unknown credit entry")
		} else {
			log.Error("refund failed", slog.String("error", err.Error()))
		}
		return false
	case refunded:
		telemetry.RefundsTotal.WithLabelValues("refunded").Inc()
		log.Info("credits refunded")
	default:
		telemetry.RefundsTotal.WithLabelValues("already_refunded").Inc()
		log.Info("credits already refunded")
	}
	return refunded
}

func (m *Manager) broadcast(ctx context.Context, task *domain.Task) {
	if m.updates == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
	defer cancel()
	if err := m.updates.Publish(pubCtx, task); err != nil {
		m.logger.Warn("update broadcast failed",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) emit(ctx context.Context, task *domain.Task, cause domain.FailureCause, refunded bool) {
	if m.producer == nil {
		return
	}
	ev := kafka.TaskEvent{
		TaskID:    task.ID,
		UserID:    task.UserID,
		Status:    task.Status,
		Cause:     cause,
		Refunded:  refunded,
		UpdatedAt: task.UpdatedAt,
	}
	if task.ErrorMessage != nil {
		ev.ErrorMessage = *task.ErrorMessage
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
	defer cancel()
	if err := kafka.PublishJSON(pubCtx, m.producer, kafka.TopicEvents, task.ID, ev); err != nil {
		m.logger.Warn("lifecycle event publish failed",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) enqueue(ctx context.Context, taskID string, phase kafka.Phase) error {
	if m.producer == nil {
		return nil
	}
	msg := kafka.JobMessage{TaskID: taskID, Phase: phase, EnqueuedAt: m.now().UTC()}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
	defer cancel()
	if err := kafka.PublishJSON(pubCtx, m.producer, kafka.TopicJobs, taskID, msg); err != nil {
		return fmt.Errorf("enqueue %s job for task %s: %w", phase, taskID, err)
	}
	return nil
}

// abandon fails a task that no worker will ever see, refunding its credits.
func (m *Manager) abandon(ctx context.Context, taskID string, cause error) {
	m.logger.Error("job enqueue failed, failing task",
		slog.String("task_id", taskID),
		slog.String("error", cause.Error()),
	)
	if _, _, err := m.Fail(context.WithoutCancel(ctx), domain.FailRequest{
		TaskID:  taskID,
		Cause:   domain.CauseProcessingError,
		Message: "task could not be queued, please retry",
	}); err != nil {
		m.logger.Error("failed to fail unqueued task",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
