package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the daemon needs, resolved once at startup.
// Policy knobs (TTL, queue size, cancellation window) are plain data here;
// the engine never reads the environment itself.
type Config struct {
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HoldTTL          time.Duration
	QueueMaxSize     int
	QueueIdleTimeout time.Duration
	CancelWindow     time.Duration

	SweepInterval     time.Duration
	ReconcileInterval time.Duration
	SweepBatchSize    int
	SweepMaxAttempts  int
	SweepRetryBase    time.Duration
}

func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:     envDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.HoldTTL, err = envDuration("HOLD_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.QueueMaxSize, err = envInt("QUEUE_MAX_SIZE", 100); err != nil {
		return cfg, err
	}
	if cfg.QueueIdleTimeout, err = envDuration("QUEUE_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.CancelWindow, err = envDuration("CANCEL_WINDOW", 0); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ReconcileInterval, err = envDuration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.SweepBatchSize, err = envInt("SWEEP_BATCH_SIZE", 100); err != nil {
		return cfg, err
	}
	if cfg.SweepMaxAttempts, err = envInt("SWEEP_MAX_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.SweepRetryBase, err = envDuration("SWEEP_RETRY_BASE", time.Second); err != nil {
		return cfg, err
	}

	if cfg.HoldTTL <= 0 {
		return cfg, fmt.Errorf("HOLD_TTL must be positive")
	}
	if cfg.QueueMaxSize <= 0 {
		return cfg, fmt.Errorf("QUEUE_MAX_SIZE must be positive")
	}
	return cfg, nil
}

func envDefault(k, d string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	return v
}

func envInt(k string, d int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func envDuration(k string, d time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return parsed, nil
}
