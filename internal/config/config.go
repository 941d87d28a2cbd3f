package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the playback sync service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Storage and audio lookup
	DatabasePath string `envconfig:"DATABASE_PATH" default:"file:./transcripts.db"` // sqlite DSN
	AudioDir     string `envconfig:"AUDIO_DIR" default:"./audio"`                   // <AUDIO_DIR>/<conversation_id>.wav
	WatchAudio   bool   `envconfig:"WATCH_AUDIO" default:"true"`                    // Swap sources when audio is rewritten

	// Sync engine configuration
	DriftThresholdMs    int64   `envconfig:"DRIFT_THRESHOLD_MS" default:"1000"`    // Absolute drift that triggers correction
	DriftRatioTolerance float64 `envconfig:"DRIFT_RATIO_TOLERANCE" default:"0"`    // |ratio-1| tolerated on top of the threshold, 0 disables
	SyncGracePeriodMs   int64   `envconfig:"SYNC_GRACE_PERIOD_MS" default:"1500"`  // How long is_syncing stays set after a correction
	SyncOffsetLimitMs   int64   `envconfig:"SYNC_OFFSET_LIMIT_MS" default:"30000"` // Bound applied to client offset requests
	SimulatedTickMs     int64   `envconfig:"SIMULATED_TICK_MS" default:"100"`      // Simulated clock tick and step
	MediaTimeUpdateMs   int64   `envconfig:"MEDIA_TIME_UPDATE_MS" default:"250"`   // Media source time_updated cadence

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	PersistTimeout             int `envconfig:"PERSIST_TIMEOUT" default:"10"`               // Seconds allowed per persistence call

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express
func (c *Config) Validate() error {
	switch {
	case c.SimulatedTickMs <= 0:
		return fmt.Errorf("%w: SIMULATED_TICK_MS must be positive, got %d", ErrInvalidConfig, c.SimulatedTickMs)
	case c.MediaTimeUpdateMs <= 0:
		return fmt.Errorf("%w: MEDIA_TIME_UPDATE_MS must be positive, got %d", ErrInvalidConfig, c.MediaTimeUpdateMs)
	case c.DriftThresholdMs < 0:
		return fmt.Errorf("%w: DRIFT_THRESHOLD_MS must not be negative, got %d", ErrInvalidConfig, c.DriftThresholdMs)
	case c.SyncGracePeriodMs < 0:
		return fmt.Errorf("%w: SYNC_GRACE_PERIOD_MS must not be negative, got %d", ErrInvalidConfig, c.SyncGracePeriodMs)
	case c.SyncOffsetLimitMs < 0:
		return fmt.Errorf("%w: SYNC_OFFSET_LIMIT_MS must not be negative, got %d", ErrInvalidConfig, c.SyncOffsetLimitMs)
	case c.DriftRatioTolerance < 0 || c.DriftRatioTolerance >= 1:
		return fmt.Errorf("%w: DRIFT_RATIO_TOLERANCE must be in [0,1), got %g", ErrInvalidConfig, c.DriftRatioTolerance)
	case c.DatabasePath == "":
		return fmt.Errorf("%w: DATABASE_PATH is required", ErrInvalidConfig)
	}
	return nil
}

// GracePeriod returns SYNC_GRACE_PERIOD_MS as a duration
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.SyncGracePeriodMs) * time.Millisecond
}

// SimulatedTick returns SIMULATED_TICK_MS as a duration
func (c *Config) SimulatedTick() time.Duration {
	return time.Duration(c.SimulatedTickMs) * time.Millisecond
}

// MediaTimeUpdate returns MEDIA_TIME_UPDATE_MS as a duration
func (c *Config) MediaTimeUpdate() time.Duration {
	return time.Duration(c.MediaTimeUpdateMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
