package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the orchestration engine.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithServiceName("marketing-orchestrator"),
//	    core.WithWaveConcurrency(5),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// ServiceName identifies this orchestrator in logs and traces
	ServiceName string `json:"service_name" env:"WAVEFLOW_SERVICE_NAME"`

	// AuthToken is the bearer token attached to every step invocation.
	// Sourced from the process environment; the secrets service that
	// populates it is an external collaborator.
	AuthToken string `json:"-" env:"WAVEFLOW_AUTH_TOKEN"`

	// WaveConcurrency bounds how many steps dispatch in a single wave
	WaveConcurrency int `json:"wave_concurrency" env:"WAVEFLOW_WAVE_CONCURRENCY" default:"3"`

	// CompletedHistorySize bounds the ledger's completed-execution history
	CompletedHistorySize int `json:"completed_history_size" env:"WAVEFLOW_COMPLETED_HISTORY" default:"200"`

	// CostHistorySize bounds the per-workflow cost history
	CostHistorySize int `json:"cost_history_size" env:"WAVEFLOW_COST_HISTORY" default:"100"`

	// HTTPTimeout is the default client timeout for step calls that carry
	// no per-step timeout of their own
	HTTPTimeout time.Duration `json:"http_timeout" env:"WAVEFLOW_HTTP_TIMEOUT" default:"30s"`

	// RedisURL enables the Redis-backed service registry when set
	RedisURL string `json:"redis_url" env:"WAVEFLOW_REDIS_URL"`

	// RedisNamespace prefixes all registry keys
	RedisNamespace string `json:"redis_namespace" env:"WAVEFLOW_REDIS_NAMESPACE" default:"waveflow"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// LoggingConfig controls the production logger.
type LoggingConfig struct {
	Level  string `json:"level" env:"WAVEFLOW_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"WAVEFLOW_LOG_FORMAT"`
}

// Option is a functional option for Config
type Option func(*Config)

// NewConfig creates a Config with defaults, environment overrides, and
// functional options applied in that order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	cfg.applyEnvironment()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ServiceName:          "waveflow",
		WaveConcurrency:      3,
		CompletedHistorySize: 200,
		CostHistorySize:      100,
		HTTPTimeout:          30 * time.Second,
		RedisNamespace:       "waveflow",
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("WAVEFLOW_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("WAVEFLOW_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("WAVEFLOW_WAVE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WaveConcurrency = n
		}
	}
	if v := os.Getenv("WAVEFLOW_COMPLETED_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CompletedHistorySize = n
		}
	}
	if v := os.Getenv("WAVEFLOW_COST_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CostHistorySize = n
		}
	}
	if v := os.Getenv("WAVEFLOW_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTPTimeout = d
		}
	}
	if v := os.Getenv("WAVEFLOW_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("WAVEFLOW_REDIS_NAMESPACE"); v != "" {
		c.RedisNamespace = v
	}
	if v := os.Getenv("WAVEFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WAVEFLOW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.WaveConcurrency < 1 {
		return fmt.Errorf("wave concurrency must be at least 1, got %d: %w",
			c.WaveConcurrency, ErrInvalidConfiguration)
	}
	if c.CompletedHistorySize < 1 {
		return fmt.Errorf("completed history size must be at least 1, got %d: %w",
			c.CompletedHistorySize, ErrInvalidConfiguration)
	}
	if c.CostHistorySize < 1 {
		return fmt.Errorf("cost history size must be at least 1, got %d: %w",
			c.CostHistorySize, ErrInvalidConfiguration)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %v: %w",
			c.HTTPTimeout, ErrInvalidConfiguration)
	}
	return nil
}

// WithServiceName sets the orchestrator's service name
func WithServiceName(name string) Option {
	return func(c *Config) { c.ServiceName = name }
}

// WithAuthToken sets the bearer token for step invocations
func WithAuthToken(token string) Option {
	return func(c *Config) { c.AuthToken = token }
}

// WithWaveConcurrency sets the wave dispatch bound
func WithWaveConcurrency(n int) Option {
	return func(c *Config) { c.WaveConcurrency = n }
}

// WithCompletedHistorySize bounds the completed-execution history
func WithCompletedHistorySize(n int) Option {
	return func(c *Config) { c.CompletedHistorySize = n }
}

// WithCostHistorySize bounds the per-workflow cost history
func WithCostHistorySize(n int) Option {
	return func(c *Config) { c.CostHistorySize = n }
}

// WithHTTPTimeout sets the default step-call timeout
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) { c.HTTPTimeout = d }
}

// WithRedisURL enables the Redis-backed service registry
func WithRedisURL(url string) Option {
	return func(c *Config) { c.RedisURL = url }
}

// WithLogging sets logging level and format
func WithLogging(level, format string) Option {
	return func(c *Config) {
		c.Logging.Level = level
		c.Logging.Format = format
	}
}
