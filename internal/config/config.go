package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr  = ":8080"
	defaultBackendAddr = "localhost:50051"

	defaultMaxConcurrent = 100
	defaultCalcTimeout   = 300 * time.Second
	defaultCompletedTTL  = time.Hour
	defaultSweepInterval = time.Minute
	defaultDialTimeout   = 5 * time.Second

	defaultBreakerFailureRatio = 0.5
	defaultBreakerMinRequests  = 5
	defaultBreakerInterval     = 60 * time.Second
	defaultBreakerCooldown     = 30 * time.Second
	defaultBreakerHalfOpenMax  = 2

	defaultRetryMaxAttempts     = 3
	defaultRetryInitialInterval = 200 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second

	envListenAddr  = "CALCGW_LISTEN_ADDR"
	envBackendAddr = "CALCGW_BACKEND_ADDR"
	envLogLevel    = "CALCGW_LOG_LEVEL"

	envMaxConcurrent = "CALCGW_MAX_CONCURRENT"
	envCalcTimeoutS  = "CALCGW_CALC_TIMEOUT_S"
	envIdleTimeoutS  = "CALCGW_IDLE_TIMEOUT_S"
	envCompletedTTLS = "CALCGW_COMPLETED_TTL_S"
	envSweepS        = "CALCGW_SWEEP_INTERVAL_S"
	envDialTimeoutS  = "CALCGW_DIAL_TIMEOUT_S"

	envBreakerFailureRatio = "CALCGW_BREAKER_FAILURE_RATIO"
	envBreakerMinRequests  = "CALCGW_BREAKER_MIN_REQUESTS"
	envBreakerIntervalS    = "CALCGW_BREAKER_INTERVAL_S"
	envBreakerCooldownS    = "CALCGW_BREAKER_COOLDOWN_S"
	envBreakerHalfOpenMax  = "CALCGW_BREAKER_HALF_OPEN_MAX"

	envRetryMaxAttempts = "CALCGW_RETRY_MAX_ATTEMPTS"
	envRetryInitialMS   = "CALCGW_RETRY_INITIAL_MS"
	envRetryMaxMS       = "CALCGW_RETRY_MAX_MS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr  string
	BackendAddr string
	LogLevel    slog.Level

	// MaxConcurrent is the admission ceiling for simultaneously active
	// calculations.
	MaxConcurrent int

	// CalcTimeout bounds each calculation end to end. IdleTimeout bounds the
	// gap between events on a progress subscription; it defaults to
	// CalcTimeout when unset.
	CalcTimeout time.Duration
	IdleTimeout time.Duration

	// CompletedTTL is how long terminal calculation records stay queryable
	// before the sweeper evicts them.
	CompletedTTL  time.Duration
	SweepInterval time.Duration

	DialTimeout time.Duration

	// Circuit breaker tuning for the solver endpoint.
	BreakerFailureRatio float64
	BreakerMinRequests  int
	BreakerInterval     time.Duration
	BreakerCooldown     time.Duration
	BreakerHalfOpenMax  int

	// Retry tuning for solver calls that fail before streaming starts.
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:  getEnv(envListenAddr, defaultListenAddr),
		BackendAddr: getEnv(envBackendAddr, defaultBackendAddr),
		LogLevel:    parseLogLevel(os.Getenv(envLogLevel)),

		MaxConcurrent: getEnvInt(envMaxConcurrent, defaultMaxConcurrent),
		CalcTimeout:   getEnvSeconds(envCalcTimeoutS, defaultCalcTimeout),
		CompletedTTL:  getEnvSeconds(envCompletedTTLS, defaultCompletedTTL),
		SweepInterval: getEnvSeconds(envSweepS, defaultSweepInterval),
		DialTimeout:   getEnvSeconds(envDialTimeoutS, defaultDialTimeout),

		BreakerFailureRatio: getEnvFloat(envBreakerFailureRatio, defaultBreakerFailureRatio),
		BreakerMinRequests:  getEnvInt(envBreakerMinRequests, defaultBreakerMinRequests),
		BreakerInterval:     getEnvSeconds(envBreakerIntervalS, defaultBreakerInterval),
		BreakerCooldown:     getEnvSeconds(envBreakerCooldownS, defaultBreakerCooldown),
		BreakerHalfOpenMax:  getEnvInt(envBreakerHalfOpenMax, defaultBreakerHalfOpenMax),

		RetryMaxAttempts:     getEnvInt(envRetryMaxAttempts, defaultRetryMaxAttempts),
		RetryInitialInterval: getEnvMillis(envRetryInitialMS, defaultRetryInitialInterval),
		RetryMaxInterval:     getEnvMillis(envRetryMaxMS, defaultRetryMaxInterval),
	}

	cfg.IdleTimeout = getEnvSeconds(envIdleTimeoutS, cfg.CalcTimeout)

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		return def
	}
	return f
}

func getEnvSeconds(key string, def time.Duration) time.Duration {
	if n := getEnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func getEnvMillis(key string, def time.Duration) time.Duration {
	if n := getEnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return def
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
