package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel         string
	KafkaBrokers     string
	RedisAddr        string
	PostgresDSN      string
	ExtractorURL     string
	TranslatorURL    string
	ProviderAPIKey   string
	MaxRetries       int
	CallTimeout      time.Duration
	TaskTimeout      time.Duration
	BeatInterval     time.Duration
	MetricsAddr      string
	OTelEndpoint     string
	TraceSampleRatio float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		RedisAddr:        v.GetString("redis_addr"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		ExtractorURL:     v.GetString("extractor_url"),
		TranslatorURL:    v.GetString("translator_url"),
		ProviderAPIKey:   v.GetString("provider_api_key"),
		MaxRetries:       v.GetInt("max_retries"),
		CallTimeout:      v.GetDuration("call_timeout"),
		TaskTimeout:      v.GetDuration("task_timeout"),
		BeatInterval:     v.GetDuration("beat_interval"),
		MetricsAddr:      v.GetString("metrics_addr"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
		TraceSampleRatio: v.GetFloat64("trace_sample_ratio"),
	}
}
