package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the watchdog service.
type Config struct {
	LogLevel         string
	KafkaBrokers     string
	RedisAddr        string
	PostgresDSN      string
	MetricsAddr      string
	OTelEndpoint     string
	TraceSampleRatio float64

	Schedule    string
	MaxTaskTime time.Duration
	PassTimeout time.Duration
	BatchSize   int
	LeaderTTL   time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		RedisAddr:        v.GetString("redis_addr"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		MetricsAddr:      v.GetString("metrics_addr"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
		TraceSampleRatio: v.GetFloat64("trace_sample_ratio"),

		Schedule:    v.GetString("schedule"),
		MaxTaskTime: v.GetDuration("max_task_time"),
		PassTimeout: v.GetDuration("pass_timeout"),
		BatchSize:   v.GetInt("batch_size"),
		LeaderTTL:   v.GetDuration("leader_ttl"),
	}
}
