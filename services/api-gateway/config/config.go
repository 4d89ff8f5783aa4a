package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the api-gateway service.
type Config struct {
	LogLevel         string
	HTTPPort         string
	MetricsAddr      string
	KafkaBrokers     string
	RedisAddr        string
	PostgresDSN      string
	JWTSecret        string
	OTelEndpoint     string
	TraceSampleRatio float64

	CostSubtitle  int
	CostVideo     int
	CostTranslate int

	MaxTaskTime      time.Duration
	ReapTimeout      time.Duration
	StatusRateLimit  int
	StatusRateWindow time.Duration
	SessionCacheSize int
	SessionCacheTTL  time.Duration
	SessionTimeout   time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		HTTPPort:         v.GetString("http_port"),
		MetricsAddr:      v.GetString("metrics_addr"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		RedisAddr:        v.GetString("redis_addr"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		JWTSecret:        v.GetString("jwt_secret"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
		TraceSampleRatio: v.GetFloat64("trace_sample_ratio"),

		CostSubtitle:  v.GetInt("cost_subtitle"),
		CostVideo:     v.GetInt("cost_video"),
		CostTranslate: v.GetInt("cost_translate"),

		MaxTaskTime:      v.GetDuration("max_task_time"),
		ReapTimeout:      v.GetDuration("reap_timeout"),
		StatusRateLimit:  v.GetInt("status_rate_limit"),
		StatusRateWindow: v.GetDuration("status_rate_window"),
		SessionCacheSize: v.GetInt("session_cache_size"),
		SessionCacheTTL:  v.GetDuration("session_cache_ttl"),
		SessionTimeout:   v.GetDuration("session_timeout"),
	}
}
