package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API Gateway ─────────────────────────────────────────────────────────────

	APITasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "api",
		Name:      "tasks_submitted_total",
		Help:      "Total tasks accepted by the API gateway, labelled by output type.",
	}, []string{"output_type"})

	APIStatusReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "api",
		Name:      "status_reads_total",
		Help:      "Task status reads, labelled by whether ownership verification was degraded.",
	}, []string{"degraded"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total status reads rejected by the rate limiter.",
	})

	// ─── Lifecycle ───────────────────────────────────────────────────────────────

	TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "lifecycle",
		Name:      "tasks_failed_total",
		Help:      "Fail transitions that were applied, labelled by cause.",
	}, []string{"cause"})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "lifecycle",
		Name:      "refunds_total",
		Help:      "Refund attempts, labelled by result (refunded, already_refunded, error).",
	}, []string{"result"})

	// ─── Watchdog ────────────────────────────────────────────────────────────────

	TasksReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "watchdog",
		Name:      "tasks_reaped_total",
		Help:      "Total stale tasks moved to failed by the timeout reaper.",
	})

	ReapRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "watchdog",
		Name:      "runs_total",
		Help:      "Reaper invocations, labelled by trigger (cron, read).",
	}, []string{"trigger"})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "worker",
		Name:      "heartbeat_failures_total",
		Help:      "Heartbeats that could not be written. Failures never abort processing.",
	})

	WorkerTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subtitle",
		Subsystem: "worker",
		Name:      "tasks_inflight",
		Help:      "Tasks currently being processed.",
	})

	WorkerTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitle",
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Pipeline runs, labelled by the status the task ended in.",
	}, []string{"status"})

	WorkerPhaseDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subtitle",
		Subsystem: "worker",
		Name:      "phase_duration_seconds",
		Help:      "Time spent in each provider phase.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"phase"})
)
