// Package config provides YAML-based configuration loading for the offload
// binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/utkarsh5026/offload/internal/types"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = types.ErrInvalidConfig

// Config is the root application configuration.
type Config struct {
	// Runtime sizes the execution core
	Runtime RuntimeConfig `mapstructure:"runtime"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// HTTP configures the offloadd listener
	HTTP HTTPConfig `mapstructure:"http"`
}

// RuntimeConfig mirrors the options accepted by pool.New.
type RuntimeConfig struct {
	WorkerThreads    int           `mapstructure:"worker_threads"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	ResultTTLSeconds int           `mapstructure:"result_ttl_seconds"`
	MemoryLimitMB    int64         `mapstructure:"memory_limit_mb"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	ThreadAffinity   bool          `mapstructure:"thread_affinity"`

	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
}

// RetryConfig controls reprocessing of failed tasks. MaxAttempts of 1
// disables retries.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      string        `mapstructure:"backoff"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       float64       `mapstructure:"jitter"`
}

// RateLimitConfig throttles task processing. Zero disables it.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// BreakerConfig guards the processor. Zero failures disables it.
type BreakerConfig struct {
	Failures uint32        `mapstructure:"failures"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// HTTPConfig configures the HTTP host.
type HTTPConfig struct {
	Listen      string `mapstructure:"listen"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// ResultTTL returns the configured TTL as a duration.
func (r RuntimeConfig) ResultTTL() time.Duration {
	return time.Duration(r.ResultTTLSeconds) * time.Second
}

// Default returns a Config populated with the runtime defaults.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			WorkerThreads:    8,
			QueueCapacity:    1000,
			ResultTTLSeconds: 3600,
			MemoryLimitMB:    1024,
			SweepInterval:    time.Second,
			Retry: RetryConfig{
				MaxAttempts:  1,
				Backoff:      "exponential",
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Jitter:       0.1,
			},
			Breaker: BreakerConfig{Cooldown: 30 * time.Second},
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		HTTP: HTTPConfig{
			Listen:      ":8080",
			MetricsPath: "/metrics",
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix OFFLOAD and `.`/`-`
// are replaced with `_`, e.g. OFFLOAD_RUNTIME_WORKER_THREADS=16.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OFFLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seedDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("OFFLOAD_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("offload")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".offload"))
		}
	}

	// a missing config file is fine; defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedDefaults registers every key with viper so env-only configs work.
func seedDefaults(v *viper.Viper, cfg *Config) {
	r := cfg.Runtime
	v.SetDefault("runtime.worker_threads", r.WorkerThreads)
	v.SetDefault("runtime.queue_capacity", r.QueueCapacity)
	v.SetDefault("runtime.result_ttl_seconds", r.ResultTTLSeconds)
	v.SetDefault("runtime.memory_limit_mb", r.MemoryLimitMB)
	v.SetDefault("runtime.sweep_interval", r.SweepInterval)
	v.SetDefault("runtime.thread_affinity", r.ThreadAffinity)
	v.SetDefault("runtime.retry.max_attempts", r.Retry.MaxAttempts)
	v.SetDefault("runtime.retry.backoff", r.Retry.Backoff)
	v.SetDefault("runtime.retry.initial_delay", r.Retry.InitialDelay)
	v.SetDefault("runtime.retry.max_delay", r.Retry.MaxDelay)
	v.SetDefault("runtime.retry.jitter", r.Retry.Jitter)
	v.SetDefault("runtime.rate_limit.per_second", r.RateLimit.PerSecond)
	v.SetDefault("runtime.rate_limit.burst", r.RateLimit.Burst)
	v.SetDefault("runtime.breaker.failures", r.Breaker.Failures)
	v.SetDefault("runtime.breaker.cooldown", r.Breaker.Cooldown)

	l := cfg.Log
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.outputs", l.Outputs)
	v.SetDefault("log.development", l.Development)
	v.SetDefault("log.rotation.enable", l.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", l.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", l.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", l.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", l.Rotation.Compress)

	v.SetDefault("http.listen", cfg.HTTP.Listen)
	v.SetDefault("http.metrics_path", cfg.HTTP.MetricsPath)
}

// Validate checks ranges and normalizes optional fields.
func (c *Config) Validate() error {
	r := &c.Runtime
	switch {
	case r.WorkerThreads <= 0:
		return invalid("runtime.worker_threads must be positive, got %d", r.WorkerThreads)
	case r.QueueCapacity <= 0:
		return invalid("runtime.queue_capacity must be positive, got %d", r.QueueCapacity)
	case r.ResultTTLSeconds < 0:
		return invalid("runtime.result_ttl_seconds must not be negative, got %d", r.ResultTTLSeconds)
	case r.MemoryLimitMB <= 0:
		return invalid("runtime.memory_limit_mb must be positive, got %d", r.MemoryLimitMB)
	case r.SweepInterval < 0:
		return invalid("runtime.sweep_interval must not be negative, got %v", r.SweepInterval)
	case r.Retry.MaxAttempts < 1:
		return invalid("runtime.retry.max_attempts must be at least 1, got %d", r.Retry.MaxAttempts)
	case r.Retry.Jitter < 0 || r.Retry.Jitter > 1:
		return invalid("runtime.retry.jitter must be within [0, 1], got %v", r.Retry.Jitter)
	case r.RateLimit.PerSecond < 0 || r.RateLimit.Burst < 0:
		return invalid("runtime.rate_limit values must not be negative")
	}

	r.Retry.Backoff = strings.ToLower(strings.TrimSpace(r.Retry.Backoff))
	switch r.Retry.Backoff {
	case "", "exponential":
		r.Retry.Backoff = "exponential"
	case "jittered", "decorrelated":
	default:
		return invalid("unknown runtime.retry.backoff %q", r.Retry.Backoff)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.HTTP.MetricsPath != "" && !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		c.HTTP.MetricsPath = "/" + c.HTTP.MetricsPath
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidConfig)
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
