// Package gwconfig loads the gateway's runtime configuration from
// environment variables (with GATEWAY_ prefix) and an optional config file,
// via Viper. Viper's SetEnvPrefix/AutomaticEnv/SetDefault combination
// follows internal/labelmutex.ParseMutexGroups's use of a scoped
// viper.New() instance rather than the global viper singleton, so multiple
// Config instances never step on each other's state in tests.
package gwconfig

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the gateway daemon reads at startup.
type Config struct {
	RedisURL      string
	ServerHost    string
	ServerPort    int

	GPUIndex             int
	MaxVRAMUsagePercent  float64
	VRAMReserveMB        int64
	GPUStatsIntervalSecs int

	SessionTTLHours     int
	IdempotencyTTLHours int

	WebhookTimeoutSecs  int
	WebhookMaxRetries   int

	HTTPTimeoutSecs int
	HTTPMaxRetries  int

	LogsMaxRecent int
	QueueMaxSize  int

	DefaultProvider string
	PresetPath      string
}

// Load reads configuration from environment variables prefixed GATEWAY_,
// optionally overlaid by a config file at configPath (yaml), falling back
// to documented defaults for anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("gateway")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, err
			}
		}
	}

	return &Config{
		RedisURL:             v.GetString("redis_url"),
		ServerHost:           v.GetString("server_host"),
		ServerPort:           v.GetInt("server_port"),
		GPUIndex:             v.GetInt("gpu_index"),
		MaxVRAMUsagePercent:  v.GetFloat64("max_vram_usage_percent"),
		VRAMReserveMB:        v.GetInt64("vram_reserve_mb"),
		GPUStatsIntervalSecs: v.GetInt("gpu_stats_interval_seconds"),
		SessionTTLHours:      v.GetInt("session_ttl_hours"),
		IdempotencyTTLHours:  v.GetInt("idempotency_ttl_hours"),
		WebhookTimeoutSecs:   v.GetInt("webhook_timeout_seconds"),
		WebhookMaxRetries:    v.GetInt("webhook_max_retries"),
		HTTPTimeoutSecs:      v.GetInt("http_timeout_seconds"),
		HTTPMaxRetries:       v.GetInt("http_max_retries"),
		LogsMaxRecent:        v.GetInt("logs_max_recent"),
		QueueMaxSize:         v.GetInt("queue_max_size"),
		DefaultProvider:      v.GetString("default_provider"),
		PresetPath:           v.GetString("preset_path"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)
	v.SetDefault("gpu_index", 0)
	v.SetDefault("max_vram_usage_percent", 90.0)
	v.SetDefault("vram_reserve_mb", int64(1024))
	v.SetDefault("gpu_stats_interval_seconds", 2)
	v.SetDefault("session_ttl_hours", 24)
	v.SetDefault("idempotency_ttl_hours", 24)
	v.SetDefault("webhook_timeout_seconds", 10)
	v.SetDefault("webhook_max_retries", 5)
	v.SetDefault("http_timeout_seconds", 120)
	v.SetDefault("http_max_retries", 3)
	v.SetDefault("logs_max_recent", 200)
	v.SetDefault("queue_max_size", 1000)
	v.SetDefault("default_provider", "echo")
	v.SetDefault("preset_path", "")
}

// SessionTTL returns SessionTTLHours as a time.Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// IdempotencyTTL returns IdempotencyTTLHours as a time.Duration.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// WebhookTimeout returns WebhookTimeoutSecs as a time.Duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSecs) * time.Second
}

// HTTPTimeout returns HTTPTimeoutSecs as a time.Duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}

// GPUStatsInterval returns GPUStatsIntervalSecs as a time.Duration.
func (c *Config) GPUStatsInterval() time.Duration {
	return time.Duration(c.GPUStatsIntervalSecs) * time.Second
}
