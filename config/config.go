// Package config loads server settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Port              int
	DBPath            string
	LogLevel          string
	LogFormat         string // json | console
	LedgerMaxAttempts int
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	CORSOrigins       []string
	DemoSeed          bool

	// Actor cache; size 0 disables it.
	ActorCacheSize int
	ActorCacheTTL  time.Duration

	// Per-actor rate limit; 0 disables it.
	RateLimit float64 // requests per second
	RateBurst int
}

func Default() Config {
	return Config{
		Port:              8080,
		DBPath:            "leave.db",
		LogLevel:          "info",
		LogFormat:         "json",
		LedgerMaxAttempts: 3,
		SchedulerEnabled:  true,
		SchedulerInterval: time.Hour,
		CORSOrigins:       []string{"http://localhost:5173", "http://localhost:8080"},
		ActorCacheSize:    512,
		ActorCacheTTL:     time.Minute,
		RateLimit:         20,
		RateBurst:         40,
	}
}

// Load reads .env (if present) into the process environment and then
// parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv parses settings through getenv. Unset variables keep defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	if v := getenv("PORT"); v != "" {
		if cfg.Port, err = strconv.Atoi(v); err != nil || cfg.Port <= 0 || cfg.Port > 65535 {
			return Config{}, fmt.Errorf("PORT: invalid port %q", v)
		}
	}
	if v := getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		if _, err := zapcore.ParseLevel(v); err != nil {
			return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		if v != "json" && v != "console" {
			return Config{}, fmt.Errorf("LOG_FORMAT: want json or console, got %q", v)
		}
		cfg.LogFormat = v
	}
	if v := getenv("LEDGER_MAX_ATTEMPTS"); v != "" {
		if cfg.LedgerMaxAttempts, err = strconv.Atoi(v); err != nil || cfg.LedgerMaxAttempts < 1 {
			return Config{}, fmt.Errorf("LEDGER_MAX_ATTEMPTS: want a positive integer, got %q", v)
		}
	}
	if v := getenv("SCHEDULER_ENABLED"); v != "" {
		if cfg.SchedulerEnabled, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("SCHEDULER_ENABLED: %w", err)
		}
	}
	if v := getenv("SCHEDULER_INTERVAL"); v != "" {
		if cfg.SchedulerInterval, err = time.ParseDuration(v); err != nil || cfg.SchedulerInterval <= 0 {
			return Config{}, fmt.Errorf("SCHEDULER_INTERVAL: want a positive duration, got %q", v)
		}
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if v := getenv("DEMO_SEED"); v != "" {
		if cfg.DemoSeed, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("DEMO_SEED: %w", err)
		}
	}
	if v := getenv("ACTOR_CACHE_SIZE"); v != "" {
		if cfg.ActorCacheSize, err = strconv.Atoi(v); err != nil || cfg.ActorCacheSize < 0 {
			return Config{}, fmt.Errorf("ACTOR_CACHE_SIZE: want a non-negative integer, got %q", v)
		}
	}
	if v := getenv("ACTOR_CACHE_TTL"); v != "" {
		if cfg.ActorCacheTTL, err = time.ParseDuration(v); err != nil || cfg.ActorCacheTTL <= 0 {
			return Config{}, fmt.Errorf("ACTOR_CACHE_TTL: want a positive duration, got %q", v)
		}
	}
	if v := getenv("RATE_LIMIT"); v != "" {
		if cfg.RateLimit, err = strconv.ParseFloat(v, 64); err != nil || cfg.RateLimit < 0 {
			return Config{}, fmt.Errorf("RATE_LIMIT: want a non-negative number, got %q", v)
		}
	}
	if v := getenv("RATE_BURST"); v != "" {
		if cfg.RateBurst, err = strconv.Atoi(v); err != nil || cfg.RateBurst < 1 {
			return Config{}, fmt.Errorf("RATE_BURST: want a positive integer, got %q", v)
		}
	}
	return cfg, nil
}

// NewLogger builds the process logger for the configured level and format.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid level %q: %w", c.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
