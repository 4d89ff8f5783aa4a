package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/lifecycle"
	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/session"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/telemetry"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/api-gateway/middleware"
)

// Tasks is the lifecycle surface the gateway exposes.
type Tasks interface {
	Submit(ctx context.Context, req lifecycle.SubmitRequest) (*domain.Task, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	StartTranslation(ctx context.Context, id, userID, targetLanguage string) (*domain.Task, error)
}

// Reaper fails tasks whose heartbeat has gone stale.
type Reaper interface {
	ReapTimeouts(ctx context.Context) (int, error)
}

// Sessions resolves a session id to a live session.
type Sessions interface {
	GetOrRefresh(ctx context.Context, id string) (*redisstore.Session, error)
}

// ReadyCheck reports whether a dependency is reachable.
type ReadyCheck func(ctx context.Context) error

// REST handles HTTP requests for the API Gateway.
type REST struct {
	tasks       Tasks
	sessions    Sessions
	reaper      Reaper
	limiter     redisstore.RateLimiter
	checks      map[string]ReadyCheck
	validate    *validator.Validate
	reapTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a REST handler.
type Option func(*REST)

// WithReaper runs a best-effort reap pass before every status read.
func WithReaper(r Reaper) Option { return func(h *REST) { h.reaper = r } }

// WithReapTimeout bounds the reap pass so a slow store never blocks a read.
func WithReapTimeout(d time.Duration) Option { return func(h *REST) { h.reapTimeout = d } }

// WithRateLimiter limits status reads per task id.
func WithRateLimiter(l redisstore.RateLimiter) Option { return func(h *REST) { h.limiter = l } }

// WithReadyCheck adds a dependency probed by /readyz.
func WithReadyCheck(name string, c ReadyCheck) Option {
	return func(h *REST) { h.checks[name] = c }
}

func WithLogger(l *slog.Logger) Option      { return func(h *REST) { h.logger = l } }
func WithClock(now func() time.Time) Option { return func(h *REST) { h.now = now } }

// NewREST creates a new REST handler.
func NewREST(tasks Tasks, sessions Sessions, opts ...Option) *REST {
	h := &REST{
		tasks:       tasks,
		sessions:    sessions,
		checks:      make(map[string]ReadyCheck),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		reapTimeout: 2 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	h.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the API under /api/v1 behind auth, plus unauthenticated probes.
func (h *REST) Routes(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)
		r.Post("/tasks", h.SubmitTask)
		r.Get("/tasks/{id}", h.GetTaskStatus)
		r.Post("/tasks/{id}/translate", h.StartTranslation)
	})
	return r
}

// SubmitTaskRequest is the JSON body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	SourceURL      string `json:"source_url" validate:"required,url,max=2048"`
	OutputType     string `json:"output_type" validate:"required,oneof=subtitle video"`
	TargetLanguage string `json:"target_language" validate:"omitempty,bcp47_language_tag"`
	Rewrite        bool   `json:"rewrite"`
}

// TranslateRequest is the JSON body for POST /api/v1/tasks/{id}/translate.
type TranslateRequest struct {
	TargetLanguage string `json:"target_language" validate:"required,bcp47_language_tag"`
}

// SubmitTask handles POST /api/v1/tasks.
func (h *REST) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.submit_task")
	defer span.End()

	p, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req SubmitTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OutputType == string(domain.OutputVideo) && (req.TargetLanguage != "" || req.Rewrite) {
		writeError(w, http.StatusBadRequest, "target_language and rewrite apply to subtitle tasks only")
		return
	}

	task, err := h.tasks.Submit(ctx, lifecycle.SubmitRequest{
		UserID:         p.UserID,
		SourceURL:      req.SourceURL,
		OutputType:     domain.OutputType(req.OutputType),
		TargetLanguage: req.TargetLanguage,
		Rewrite:        req.Rewrite,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		h.writeDomainError(w, err)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID), attribute.String("task.output_type", req.OutputType))
	h.logger.Info("task submitted",
		slog.String("task_id", task.ID),
		slog.String("user_id", p.UserID),
		slog.String("output_type", req.OutputType),
	)
	writeJSON(w, http.StatusAccepted, task.Sanitized(h.now()))
}

// GetTaskStatus handles GET /api/v1/tasks/{id}. Every read first gives the
// reaper a chance to fail stale tasks, so a client polling an abandoned task
// sees it time out even when no scheduled reap is running.
func (h *REST) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")
	p, _ := middleware.PrincipalFrom(ctx)
	log := h.logger.With(slog.String("task_id", taskID))

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, taskID)
		switch {
		case err != nil:
			log.Warn("rate limiter unavailable, allowing read", slog.String("error", err.Error()))
		case !allowed:
			telemetry.APIRateLimitedTotal.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(h.limiter.Window().Seconds())))
			h.writeDomainError(w, &domain.RateLimitExceededError{Key: taskID, Limit: h.limiter.Limit()})
			return
		}
	}

	h.reap(ctx, log)

	task, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	degraded := false
	sess, err := h.sessions.GetOrRefresh(ctx, p.SessionID)
	switch {
	case errors.Is(err, session.ErrUnavailable):
		degraded = true
		log.Warn("session check unavailable, skipping ownership check", slog.String("error", err.Error()))
	case err != nil:
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	case sess.UserID != p.UserID:
		writeError(w, http.StatusUnauthorized, "session does not match token")
		return
	case task.UserID != sess.UserID:
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	telemetry.APIStatusReads.WithLabelValues(strconv.FormatBool(degraded)).Inc()
	if degraded {
		w.Header().Set("X-Auth-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, task.Sanitized(h.now()))
}

// StartTranslation handles POST /api/v1/tasks/{id}/translate.
func (h *REST) StartTranslation(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.start_translation")
	defer span.End()

	p, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}
	var req TranslateRequest
	if !h.decode(w, r, &req) {
		return
	}

	taskID := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("task.id", taskID))
	task, err := h.tasks.StartTranslation(ctx, taskID, p.UserID, req.TargetLanguage)
	if err != nil {
		span.RecordError(err)
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info("translation started",
		slog.String("task_id", task.ID),
		slog.String("target_language", req.TargetLanguage),
	)
	writeJSON(w, http.StatusAccepted, task.Sanitized(h.now()))
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz and probes every registered dependency.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", slog.String("dependency", name), slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requireSession verifies the caller's session for requests that spend
// credits. Unlike reads these never proceed in degraded mode.
func (h *REST) requireSession(ctx context.Context, w http.ResponseWriter) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFrom(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return p, false
	}
	sess, err := h.sessions.GetOrRefresh(ctx, p.SessionID)
	switch {
	case errors.Is(err, session.ErrUnavailable):
		h.logger.Error("session check unavailable", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "authentication temporarily unavailable")
		return p, false
	case err != nil:
		writeError(w, http.StatusUnauthorized, "session expired")
		return p, false
	case sess.UserID != p.UserID:
		writeError(w, http.StatusUnauthorized, "session does not match token")
		return p, false
	}
	return p, true
}

func (h *REST) reap(ctx context.Context, log *slog.Logger) {
	if h.reaper == nil {
		return
	}
	telemetry.ReapRunsTotal.WithLabelValues("read").Inc()

	reapCtx, cancel := context.WithTimeout(ctx, h.reapTimeout)
	defer cancel()
	n, err := h.reaper.ReapTimeouts(reapCtx)
	if err != nil {
		log.Warn("reap on read failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		log.Info("reaped stale tasks on read", slog.Int("reaped", n))
	}
}

func (h *REST) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, "invalid "+fe.Field()+": failed "+fe.Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeDomainError maps typed domain errors to HTTP status codes.
func (h *REST) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		credits    *domain.InsufficientCreditsError
		notFound   *domain.TaskNotFoundError
		terminal   *domain.TaskTerminalError
		invalid    *domain.InvalidTransitionError
		missing    *domain.MissingPayloadError
		limited    *domain.RateLimitExceededError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &credits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.As(err, &terminal), errors.As(err, &invalid), errors.As(err, &missing):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &limited):
		writeError(w, http.StatusTooManyRequests, "too many status requests, slow down")
	default:
		h.logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
