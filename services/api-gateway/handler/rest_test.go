package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/kafka"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/lifecycle"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/memstore"
	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/session"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/watchdog"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/api-gateway/handler"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/api-gateway/middleware"
)

var (
	secret        = []byte("test-secret")
	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeProducer struct {
	mu       sync.Mutex
	messages map[string]int
}

func (p *fakeProducer) Publish(_ context.Context, topic, _ string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = make(map[string]int)
	}
	p.messages[topic]++
	return nil
}
func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[topic]
}

type fakeSessions struct {
	sessions map[string]*redisstore.Session
	err      error
}

func (s *fakeSessions) GetOrRefresh(_ context.Context, id string) (*redisstore.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, redisstore.ErrSessionNotFound
	}
	return sess, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

type fixture struct {
	srv      http.Handler
	store    *memstore.Tasks
	ledger   *memstore.Ledger
	producer *fakeProducer
	sessions *fakeSessions
	now      time.Time
}

func newFixture(t *testing.T, opts ...handler.Option) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memstore.NewTasks(clock)
	ledger := memstore.NewLedger(map[string]int{"u1": 100, "u2": 3})
	producer := &fakeProducer{}
	mgr := lifecycle.NewManager(store, ledger,
		lifecycle.WithProducer(producer),
		lifecycle.WithLogger(discardLogger),
	)
	reaper := watchdog.NewReaper(store, mgr, watchdog.WithClock(clock), watchdog.WithLogger(discardLogger))
	sessions := &fakeSessions{sessions: map[string]*redisstore.Session{
		"s1": {ID: "s1", UserID: "u1", ExpiresAt: now.Add(time.Hour)},
		"s2": {ID: "s2", UserID: "u2", ExpiresAt: now.Add(time.Hour)},
	}}

	opts = append([]handler.Option{
		handler.WithReaper(reaper),
		handler.WithLogger(discardLogger),
		handler.WithClock(clock),
	}, opts...)
	h := handler.NewREST(mgr, sessions, opts...)

	return &fixture{
		srv:      h.Routes(middleware.Authenticate(secret)),
		store:    store,
		ledger:   ledger,
		producer: producer,
		sessions: sessions,
		now:      now,
	}
}

func (f *fixture) do(t *testing.T, method, path, user, sid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		token, err := middleware.SignToken(secret, user, sid, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) *domain.Task {
	t.Helper()
	var task domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	return &task
}

func (f *fixture) put(t *testing.T, task *domain.Task) {
	t.Helper()
	if task.UserID == "" {
		task.UserID = "u1"
	}
	if task.OutputType == "" {
		task.OutputType = domain.OutputSubtitle
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = f.now
	}
	f.store.Put(task)
}

// ── submit ────────────────────────────────────────────────────────────────────

func TestSubmitTask_Accepted(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", "u1", "s1", map[string]any{
		"source_url":      "https://video.example.com/watch?v=1",
		"output_type":     "subtitle",
		"target_language": "fr",
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	task := decodeTask(t, rec)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, "u1", task.UserID)
	assert.Nil(t, task.CreditID, "credit ids stay server-side")
	assert.NotContains(t, rec.Body.String(), "credit_id")
	assert.Equal(t, 1, f.producer.count(kafka.TopicJobs))

	balance, _ := f.ledger.Balance(context.Background(), "u1")
	assert.Equal(t, 100-lifecycle.DefaultCosts.Subtitle, balance)
}

func TestSubmitTask_InsufficientCredits(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", "u2", "s2", map[string]any{
		"source_url":  "https://video.example.com/watch?v=1",
		"output_type": "video",
	})

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Zero(t, f.producer.count(kafka.TopicJobs))
}

func TestSubmitTask_Validation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]map[string]any{
		"missing url":       {"output_type": "subtitle"},
		"bad output type":   {"source_url": "https://v.example.com/1", "output_type": "audio"},
		"non-http scheme":   {"source_url": "ftp://v.example.com/1", "output_type": "subtitle"},
		"bad language":      {"source_url": "https://v.example.com/1", "output_type": "subtitle", "target_language": "not a tag"},
		"translate a video": {"source_url": "https://v.example.com/1", "output_type": "video", "target_language": "fr"},
		"unknown field":     {"source_url": "https://v.example.com/1", "output_type": "subtitle", "priority": 9},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/tasks", "u1", "s1", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	balance, _ := f.ledger.Balance(context.Background(), "u1")
	assert.Equal(t, 100, balance)
}

func TestSubmitTask_ValidationNamesJSONField(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", "u1", "s1", map[string]any{"output_type": "subtitle"})
	assert.Contains(t, rec.Body.String(), "source_url")
}

func TestSubmitTask_SessionChecks(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"source_url": "https://v.example.com/1", "output_type": "subtitle"}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/v1/tasks", "", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/v1/tasks", "u1", "gone", body).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/v1/tasks", "u1", "s2", body).Code,
		"token subject must match the session owner")

	f.sessions.err = errors.Join(session.ErrUnavailable, context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/v1/tasks", "u1", "s1", body).Code,
		"writes never run in degraded mode")
}

// ── status reads ──────────────────────────────────────────────────────────────

func TestGetTaskStatus_Owner(t *testing.T) {
	f := newFixture(t)
	credit := "c1"
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusProcessing, Progress: 40, CreditID: &credit})

	rec := f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u1", "s1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	task := decodeTask(t, rec)
	assert.Equal(t, domain.StatusProcessing, task.Status)
	assert.Equal(t, 40, task.Progress)
	assert.Nil(t, task.CreditID)
	assert.Empty(t, rec.Header().Get("X-Auth-Degraded"))
}

func TestGetTaskStatus_OtherUsersTaskIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusProcessing})

	rec := f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u2", "s2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskStatus_UnknownTask(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/tasks/missing", "u1", "s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskStatus_DegradedAuthStillReturnsData(t *testing.T) {
	f := newFixture(t)
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusProcessing})
	f.sessions.err = errors.Join(session.ErrUnavailable, context.DeadlineExceeded)

	rec := f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u2", "s2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Auth-Degraded"))
	assert.Equal(t, "t1", decodeTask(t, rec).ID)
}

func TestGetTaskStatus_ReadReapsStaleTask(t *testing.T) {
	f := newFixture(t)
	creditID, err := f.ledger.Consume(context.Background(), "u1", 10, "subtitle")
	require.NoError(t, err)
	f.put(t, &domain.Task{
		ID:        "t1",
		Status:    domain.StatusProcessing,
		Progress:  50,
		CreditID:  &creditID,
		UpdatedAt: f.now.Add(-2 * time.Minute),
	})

	rec := f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u1", "s1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	task := decodeTask(t, rec)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.True(t, task.TimedOut())
	assert.Zero(t, task.Progress)
	assert.Equal(t, 1, f.ledger.Refunds(creditID))

	balance, _ := f.ledger.Balance(context.Background(), "u1")
	assert.Equal(t, 100, balance)
}

func TestGetTaskStatus_FreshTaskIsNotReaped(t *testing.T) {
	f := newFixture(t)
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusProcessing, UpdatedAt: f.now.Add(-30 * time.Second)})

	rec := f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u1", "s1", nil)
	assert.Equal(t, domain.StatusProcessing, decodeTask(t, rec).Status)
}

func TestGetTaskStatus_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisstore.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, handler.WithRateLimiter(redisstore.NewRateLimiter(client, "status", 2, time.Minute)))
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusProcessing})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u1", "s1", nil).Code)
	}
	rec := f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u1", "s1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestGetTaskStatus_RateLimiterDownAllowsRead(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisstore.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	f := newFixture(t, handler.WithRateLimiter(redisstore.NewRateLimiter(client, "status", 1, time.Minute)))
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusProcessing})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/tasks/t1", "u1", "s1", nil).Code)
}

// ── translate ─────────────────────────────────────────────────────────────────

func TestStartTranslation(t *testing.T) {
	f := newFixture(t)
	raw := "hello"
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusExtracted, SubtitleRaw: &raw, Progress: 100})

	rec := f.do(t, http.MethodPost, "/api/v1/tasks/t1/translate", "u1", "s1", map[string]string{"target_language": "de"})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	task := decodeTask(t, rec)
	assert.Equal(t, domain.StatusTranslating, task.Status)
	assert.Equal(t, "de", task.TargetLanguage)
	assert.Equal(t, 1, f.producer.count(kafka.TopicJobs))
}

func TestStartTranslation_Conflicts(t *testing.T) {
	f := newFixture(t)
	f.put(t, &domain.Task{ID: "t1", Status: domain.StatusProcessing})
	f.put(t, &domain.Task{ID: "t2", Status: domain.StatusExtracted, UserID: "u2"})

	rec := f.do(t, http.MethodPost, "/api/v1/tasks/t1/translate", "u1", "s1", map[string]string{"target_language": "de"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t2/translate", "u1", "s1", map[string]string{"target_language": "de"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t1/translate", "u1", "s1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ── probes ────────────────────────────────────────────────────────────────────

func TestProbes(t *testing.T) {
	down := errors.New("dial tcp: connection refused")
	f := newFixture(t,
		handler.WithReadyCheck("postgres", func(context.Context) error { return nil }),
		handler.WithReadyCheck("redis", func(context.Context) error { return down }),
	)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", "", nil).Code)

	rec := f.do(t, http.MethodGet, "/readyz", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}
