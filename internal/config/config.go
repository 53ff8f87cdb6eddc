// Package config loads the threat analysis service's configuration from
// environment variables, following the teacher framework's manual-parse
// style (os.Getenv + strconv/time.ParseDuration, not a reflection-based
// loader) and a functional-options layer for programmatic overrides in
// tests.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/threatanalysis/coordinator/internal/logging"
)

// ReasoningMode selects which ReasoningProvider backend is wired up.
type ReasoningMode string

const (
	ReasoningModeMock ReasoningMode = "mock"
	ReasoningModeLive ReasoningMode = "live"
)

// StoreBacking selects the SharedStore implementation.
type StoreBacking string

const (
	StoreBackingInProcess StoreBacking = "inprocess"
	StoreBackingRedis     StoreBacking = "redis"
)

// Config is the fully resolved runtime configuration for the service.
type Config struct {
	// HTTP
	Port int

	// Coordinator
	AnalystTimeout time.Duration
	TotalTimeout   time.Duration

	// Reasoning
	ReasoningMode    ReasoningMode
	ReasoningBaseURL string
	ReasoningModel   string
	ReasoningAPIKey  string
	ReasoningTimeout time.Duration

	// Store
	StoreBacking     StoreBacking
	RedisURL         string
	RecentLimit      int
	SubscriberBuffer int

	// Logging
	LogLevel  logging.Level
	LogFormat logging.Format

	// Telemetry
	TelemetryEnabled bool

	// Resilience
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// Option overrides a field on a Config constructed via Load, matching the
// teacher's With* functional-option pattern.
type Option func(*Config)

func WithReasoningMode(m ReasoningMode) Option {
	return func(c *Config) { c.ReasoningMode = m }
}

func WithStoreBacking(b StoreBacking) Option {
	return func(c *Config) { c.StoreBacking = b }
}

func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

func WithRedisURL(url string) Option {
	return func(c *Config) { c.RedisURL = url; c.StoreBacking = StoreBackingRedis }
}

func WithAnalystTimeout(d time.Duration) Option {
	return func(c *Config) { c.AnalystTimeout = d }
}

func WithTotalTimeout(d time.Duration) Option {
	return func(c *Config) { c.TotalTimeout = d }
}

// Default returns the baseline configuration before env vars or options
// are applied: mock reasoning, in-process store, text logs at info level.
func Default() *Config {
	return &Config{
		Port:                    8080,
		AnalystTimeout:          1 * time.Second,
		TotalTimeout:            5 * time.Second,
		ReasoningMode:           ReasoningModeMock,
		ReasoningTimeout:        10 * time.Second,
		StoreBacking:            StoreBackingInProcess,
		RecentLimit:             100,
		SubscriberBuffer:        64,
		LogLevel:                logging.LevelInfo,
		LogFormat:               logging.FormatText,
		TelemetryEnabled:        false,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// Load builds a Config from defaults, environment variables, then the
// supplied options, in that precedence order (options win).
func Load(logger logging.Logger, opts ...Option) *Config {
	c := Default()
	analystTimeoutSet, totalTimeoutSet := c.loadFromEnv(logger)

	// The per-analyst and total deadlines default to a looser budget in
	// live mode than in mock mode; apply that once the mode is known,
	// unless the operator pinned an explicit value.
	if c.ReasoningMode == ReasoningModeLive {
		if !analystTimeoutSet {
			c.AnalystTimeout = 10 * time.Second
		}
		if !totalTimeoutSet {
			c.TotalTimeout = 30 * time.Second
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Config) loadFromEnv(logger logging.Logger) (analystTimeoutSet, totalTimeoutSet bool) {
	debug := func(setting, source string) {
		if logger != nil {
			logger.Debug("configuration loaded", logging.Fields{
				"setting": setting,
				"source":  source,
			})
		}
	}

	if v := os.Getenv("THREATANALYSIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
			debug("port", "THREATANALYSIS_PORT")
		}
	}
	if v := os.Getenv("THREATANALYSIS_ANALYST_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.AnalystTimeout = time.Duration(ms) * time.Millisecond
			analystTimeoutSet = true
			debug("analyst_timeout", "THREATANALYSIS_ANALYST_TIMEOUT_MS")
		}
	}
	if v := os.Getenv("THREATANALYSIS_TOTAL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.TotalTimeout = time.Duration(ms) * time.Millisecond
			totalTimeoutSet = true
			debug("total_timeout", "THREATANALYSIS_TOTAL_TIMEOUT_MS")
		}
	}
	if v := os.Getenv("THREATANALYSIS_REASONING_MODE"); v != "" {
		c.ReasoningMode = ReasoningMode(strings.ToLower(v))
		debug("reasoning_mode", "THREATANALYSIS_REASONING_MODE")
	}
	if v := os.Getenv("THREATANALYSIS_REASONING_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.ReasoningTimeout = time.Duration(ms) * time.Millisecond
			debug("reasoning_timeout", "THREATANALYSIS_REASONING_TIMEOUT_MS")
		}
	}
	if v := os.Getenv("THREATANALYSIS_REASONING_BASE_URL"); v != "" {
		c.ReasoningBaseURL = v
		debug("reasoning_base_url", "THREATANALYSIS_REASONING_BASE_URL")
	}
	if v := os.Getenv("THREATANALYSIS_REASONING_MODEL"); v != "" {
		c.ReasoningModel = v
		debug("reasoning_model", "THREATANALYSIS_REASONING_MODEL")
	}
	if v := os.Getenv("THREATANALYSIS_REASONING_API_KEY"); v != "" {
		c.ReasoningAPIKey = v
		c.ReasoningMode = ReasoningModeLive
		debug("reasoning_api_key", "THREATANALYSIS_REASONING_API_KEY")
	}

	if v := os.Getenv("THREATANALYSIS_STORE_BACKING"); v != "" {
		c.StoreBacking = StoreBacking(strings.ToLower(v))
		debug("store_backing", "THREATANALYSIS_STORE_BACKING")
	}
	if v := os.Getenv("THREATANALYSIS_REDIS_URL"); v != "" {
		c.RedisURL = v
		c.StoreBacking = StoreBackingRedis
		debug("redis_url", "THREATANALYSIS_REDIS_URL")
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
		c.StoreBacking = StoreBackingRedis
		debug("redis_url", "REDIS_URL")
	}
	if v := os.Getenv("THREATANALYSIS_RECENT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecentLimit = n
			debug("recent_limit", "THREATANALYSIS_RECENT_LIMIT")
		}
	}
	if v := os.Getenv("THREATANALYSIS_SUBSCRIBER_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SubscriberBuffer = n
			debug("subscriber_buffer", "THREATANALYSIS_SUBSCRIBER_BUFFER")
		}
	}

	if v := os.Getenv("THREATANALYSIS_LOG_LEVEL"); v != "" {
		c.LogLevel = logging.ParseLevel(strings.ToLower(v))
		debug("log_level", "THREATANALYSIS_LOG_LEVEL")
	}
	if v := os.Getenv("THREATANALYSIS_LOG_FORMAT"); v != "" {
		c.LogFormat = logging.Format(strings.ToLower(v))
		debug("log_format", "THREATANALYSIS_LOG_FORMAT")
	}

	if v := os.Getenv("THREATANALYSIS_TELEMETRY_ENABLED"); v != "" {
		c.TelemetryEnabled = parseBool(v)
		debug("telemetry_enabled", "THREATANALYSIS_TELEMETRY_ENABLED")
	}

	if v := os.Getenv("THREATANALYSIS_CB_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CircuitBreakerThreshold = n
			debug("circuit_breaker_threshold", "THREATANALYSIS_CB_THRESHOLD")
		}
	}
	if v := os.Getenv("THREATANALYSIS_CB_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.CircuitBreakerTimeout = time.Duration(ms) * time.Millisecond
			debug("circuit_breaker_timeout", "THREATANALYSIS_CB_TIMEOUT_MS")
		}
	}

	return analystTimeoutSet, totalTimeoutSet
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
