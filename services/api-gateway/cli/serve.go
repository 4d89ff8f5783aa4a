package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/cliutil"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/kafka"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/lifecycle"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/postgres"
	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/session"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/watchdog"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/telemetry"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/api-gateway/config"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/api-gateway/handler"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/api-gateway/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("jwt-secret", "changeme", "JWT signing secret")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Int("cost-subtitle", lifecycle.DefaultCosts.Subtitle, "credits charged for a subtitle task")
	serveCmd.Flags().Int("cost-video", lifecycle.DefaultCosts.Video, "credits charged for a video task")
	serveCmd.Flags().Int("cost-translate", lifecycle.DefaultCosts.Translate, "credits charged to start translation")
	serveCmd.Flags().Duration("max-task-time", watchdog.DefaultMaxTaskTime, "processing tasks silent for longer are failed")
	serveCmd.Flags().Duration("reap-timeout", 2*time.Second, "time budget for the reap pass on each status read")
	serveCmd.Flags().Int("status-rate-limit", 30, "status reads allowed per task per window")
	serveCmd.Flags().Duration("status-rate-window", time.Minute, "status read rate limit window")
	serveCmd.Flags().Int("session-cache-size", 10000, "sessions kept in the in-process cache")
	serveCmd.Flags().Duration("session-cache-ttl", 5*time.Minute, "how long a cached session is trusted")
	serveCmd.Flags().Duration("session-timeout", 2*time.Second, "timeout for one session store lookup")

	for key, flag := range map[string]string{
		"http_port":          "http-port",
		"metrics_addr":       "metrics-addr",
		"kafka_brokers":      "kafka-brokers",
		"redis_addr":         "redis-addr",
		"jwt_secret":         "jwt-secret",
		"otel_endpoint":      "otel-endpoint",
		"cost_subtitle":      "cost-subtitle",
		"cost_video":         "cost-video",
		"cost_translate":     "cost-translate",
		"max_task_time":      "max-task-time",
		"reap_timeout":       "reap-timeout",
		"status_rate_limit":  "status-rate-limit",
		"status_rate_window": "status-rate-window",
		"session_cache_size": "session-cache-size",
		"session_cache_ttl":  "session-cache-ttl",
		"session_timeout":    "session-timeout",
	} {
		cliutil.BindFlag(key, serveCmd.Flags(), flag)
	}
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := cliutil.BuildLogger(cfg.LogLevel, "api-gateway")
	if cfg.JWTSecret == "" || cfg.JWTSecret == "changeme" {
		logger.Warn("jwt_secret is unset or default; do not run like this outside development")
	}

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		Service:     "api-gateway",
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	brokers := strings.Split(cfg.KafkaBrokers, ",")
	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	mgr := lifecycle.NewManager(repo, postgres.NewLedger(pool),
		lifecycle.WithUpdatePublisher(redisstore.NewUpdatePublisher(redisClient)),
		lifecycle.WithProducer(producer),
		lifecycle.WithCosts(lifecycle.Costs{
			Subtitle:  cfg.CostSubtitle,
			Video:     cfg.CostVideo,
			Translate: cfg.CostTranslate,
		}),
		lifecycle.WithLogger(logger),
	)
	reaper := watchdog.NewReaper(repo, mgr,
		watchdog.WithMaxTaskTime(cfg.MaxTaskTime),
		watchdog.WithLogger(logger),
	)
	sessions := session.NewCache(redisstore.NewSessionStore(redisClient),
		cfg.SessionCacheSize, cfg.SessionCacheTTL, cfg.SessionTimeout)
	defer sessions.Close()

	restHandler := handler.NewREST(mgr, sessions,
		handler.WithReaper(reaper),
		handler.WithReapTimeout(cfg.ReapTimeout),
		handler.WithRateLimiter(redisstore.NewRateLimiter(redisClient, "status", cfg.StatusRateLimit, cfg.StatusRateWindow)),
		handler.WithReadyCheck("postgres", pool.Ping),
		handler.WithReadyCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		handler.WithLogger(logger),
	)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20))
	r.Mount("/", restHandler.Routes(middleware.Authenticate([]byte(cfg.JWTSecret))))

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger,
		telemetry.Check{Name: "postgres", Fn: pool.Ping},
		telemetry.Check{Name: "redis", Fn: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api-gateway HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("shutting down...")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
