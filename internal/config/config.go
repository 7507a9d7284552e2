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
	defaultListenAddr    = ":8080"
	defaultEngineURL     = "http://localhost:5678/webhook/agent"
	defaultRateWindow    = time.Minute
	defaultRateMax       = 100
	defaultSweepInterval = 5 * time.Minute
	defaultPollInterval  = time.Second
	defaultPollAttempts  = 30
	defaultPollTimeout   = 30 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
	defaultSubmitTimeout = 30 * time.Second

	envListenAddr    = "AGENTBRIDGE_LISTEN_ADDR"
	envEngineURL     = "AGENTBRIDGE_ENGINE_URL"
	envLogLevel      = "AGENTBRIDGE_LOG_LEVEL"
	envRateWindow    = "AGENTBRIDGE_RATE_WINDOW"
	envRateMax       = "AGENTBRIDGE_RATE_MAX"
	envSweepInterval = "AGENTBRIDGE_SWEEP_INTERVAL"
	envPollInterval  = "AGENTBRIDGE_POLL_INTERVAL"
	envPollAttempts  = "AGENTBRIDGE_POLL_ATTEMPTS"
	envPollTimeout   = "AGENTBRIDGE_POLL_TIMEOUT"
	envRetryAttempts = "AGENTBRIDGE_RETRY_ATTEMPTS"
	envRetryDelay    = "AGENTBRIDGE_RETRY_DELAY"
	envSubmitTimeout = "AGENTBRIDGE_SUBMIT_TIMEOUT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	EngineURL  string
	LogLevel   slog.Level

	RateWindow    time.Duration
	RateMax       int
	SweepInterval time.Duration

	PollInterval time.Duration
	PollAttempts int
	PollTimeout  time.Duration

	RetryAttempts int
	RetryDelay    time.Duration
	SubmitTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		EngineURL:     defaultEngineURL,
		LogLevel:      slog.LevelInfo,
		RateWindow:    defaultRateWindow,
		RateMax:       defaultRateMax,
		SweepInterval: defaultSweepInterval,
		PollInterval:  defaultPollInterval,
		PollAttempts:  defaultPollAttempts,
		PollTimeout:   defaultPollTimeout,
		RetryAttempts: defaultRetryAttempts,
		RetryDelay:    defaultRetryDelay,
		SubmitTimeout: defaultSubmitTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envEngineURL); v != "" {
		cfg.EngineURL = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.RateWindow = durationEnv(envRateWindow, cfg.RateWindow)
	cfg.RateMax = intEnv(envRateMax, cfg.RateMax)
	cfg.SweepInterval = durationEnv(envSweepInterval, cfg.SweepInterval)
	cfg.PollInterval = durationEnv(envPollInterval, cfg.PollInterval)
	cfg.PollAttempts = intEnv(envPollAttempts, cfg.PollAttempts)
	cfg.PollTimeout = durationEnv(envPollTimeout, cfg.PollTimeout)
	cfg.RetryAttempts = intEnv(envRetryAttempts, cfg.RetryAttempts)
	cfg.RetryDelay = durationEnv(envRetryDelay, cfg.RetryDelay)
	cfg.SubmitTimeout = durationEnv(envSubmitTimeout, cfg.SubmitTimeout)

	return cfg
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
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
