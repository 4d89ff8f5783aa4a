package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the tasksync client.
type Config struct {
	LogLevel      string
	GatewayURL    string
	RedisAddr     string
	Token         string
	PullTimeout   time.Duration
	AckTimeout    time.Duration
	FallbackAfter time.Duration
	HardTimeout   time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		GatewayURL:    v.GetString("gateway_url"),
		RedisAddr:     v.GetString("redis_addr"),
		Token:         v.GetString("token"),
		PullTimeout:   v.GetDuration("pull_timeout"),
		AckTimeout:    v.GetDuration("ack_timeout"),
		FallbackAfter: v.GetDuration("fallback_after"),
		HardTimeout:   v.GetDuration("hard_timeout"),
	}
}
