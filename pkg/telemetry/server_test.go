package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsRouter_Ready(t *testing.T) {
	h := MetricsRouter(Check{Name: "redis", Fn: func(context.Context) error { return nil }})

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	rec := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsRouter_NotReady(t *testing.T) {
	h := MetricsRouter(
		Check{Name: "redis", Fn: func(context.Context) error { return nil }},
		Check{Name: "postgres", Fn: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := get(t, h, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Failing map[string]string `json:"failing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"postgres": "connection refused"}, body.Failing)
}

func TestMetricsRouter_ExposesMetrics(t *testing.T) {
	WorkerTasksProcessed.WithLabelValues("completed").Inc()

	rec := get(t, MetricsRouter(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subtitle_worker_tasks_processed_total")
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
