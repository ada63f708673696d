package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var validStores = map[string]bool{
	"sqlite": true,
	"memory": true,
	"redis":  true,
}

type Config struct {
	ListenAddr   string
	APIKeys      []string
	CORSOrigins  []string
	RateLimitRPS int

	Store         string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	ExecutorURL     string
	ExecutorTimeout time.Duration

	WorkerID       string
	PollEnabled    bool
	PollInterval   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	MaxConcurrentTabs int
	BatchCallbackURL  string

	// MaintenanceSchedule is a cron expression (robfig/cron syntax, @every
	// accepted) for the stale-claim reaper and retention sweep.
	MaintenanceSchedule string
	ClaimTTL            time.Duration
	Retention           time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          getEnv("FIELDRUN_LISTEN_ADDR", ":8080"),
		Store:               getEnv("FIELDRUN_STORE", "sqlite"),
		DBPath:              getEnv("FIELDRUN_DB_PATH", "fieldrun.db"),
		RedisAddr:           getEnv("FIELDRUN_REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("FIELDRUN_REDIS_PASSWORD", ""),
		RedisPrefix:         getEnv("FIELDRUN_REDIS_PREFIX", "fieldrun"),
		ExecutorURL:         getEnv("FIELDRUN_EXECUTOR_URL", "http://localhost:9321"),
		WorkerID:            getEnv("FIELDRUN_WORKER_ID", ""),
		BatchCallbackURL:    getEnv("FIELDRUN_BATCH_CALLBACK_URL", ""),
		MaintenanceSchedule: getEnv("FIELDRUN_MAINTENANCE_SCHEDULE", "@every 5m"),
	}

	rawKeys := getEnv("FIELDRUN_API_KEYS", "")
	if rawKeys == "" {
		return nil, errors.New("FIELDRUN_API_KEYS must not be empty")
	}
	for _, k := range strings.Split(rawKeys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			cfg.APIKeys = append(cfg.APIKeys, k)
		}
	}
	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("FIELDRUN_API_KEYS contains no valid keys")
	}

	if raw := getEnv("FIELDRUN_CORS_ORIGINS", ""); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if !validStores[cfg.Store] {
		return nil, fmt.Errorf("FIELDRUN_STORE %q must be one of: sqlite, memory, redis", cfg.Store)
	}

	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "fieldrun"
		}
		cfg.WorkerID = host
	}

	var err error
	cfg.RateLimitRPS, err = getEnvInt("FIELDRUN_RATE_LIMIT_RPS", 0)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_RATE_LIMIT_RPS: %w", err)
	}

	cfg.RedisDB, err = getEnvInt("FIELDRUN_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_REDIS_DB: %w", err)
	}

	executorTimeout, err := getEnvInt("FIELDRUN_EXECUTOR_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_EXECUTOR_TIMEOUT_SECONDS: %w", err)
	}
	if executorTimeout < 1 {
		return nil, errors.New("FIELDRUN_EXECUTOR_TIMEOUT_SECONDS must be > 0")
	}
	cfg.ExecutorTimeout = time.Duration(executorTimeout) * time.Second

	cfg.PollEnabled = getEnv("FIELDRUN_POLL_ENABLED", "true") == "true"

	pollMs, err := getEnvInt("FIELDRUN_POLL_INTERVAL_MS", 5000)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_POLL_INTERVAL_MS: %w", err)
	}
	if pollMs < 100 {
		return nil, errors.New("FIELDRUN_POLL_INTERVAL_MS must be >= 100")
	}
	cfg.PollInterval = time.Duration(pollMs) * time.Millisecond

	cfg.RetryAttempts, err = getEnvInt("FIELDRUN_RETRY_ATTEMPTS", 4)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_RETRY_ATTEMPTS: %w", err)
	}
	if cfg.RetryAttempts < 1 {
		return nil, errors.New("FIELDRUN_RETRY_ATTEMPTS must be > 0")
	}

	retryBaseMs, err := getEnvInt("FIELDRUN_RETRY_BASE_DELAY_MS", 500)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_RETRY_BASE_DELAY_MS: %w", err)
	}
	if retryBaseMs < 1 {
		return nil, errors.New("FIELDRUN_RETRY_BASE_DELAY_MS must be > 0")
	}
	cfg.RetryBaseDelay = time.Duration(retryBaseMs) * time.Millisecond

	cfg.MaxConcurrentTabs, err = getEnvInt("FIELDRUN_MAX_CONCURRENT_TABS", 2)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_MAX_CONCURRENT_TABS: %w", err)
	}
	if cfg.MaxConcurrentTabs < 1 {
		return nil, errors.New("FIELDRUN_MAX_CONCURRENT_TABS must be > 0")
	}

	claimTTLMin, err := getEnvInt("FIELDRUN_CLAIM_TTL_MINUTES", 15)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_CLAIM_TTL_MINUTES: %w", err)
	}
	if claimTTLMin < 1 {
		return nil, errors.New("FIELDRUN_CLAIM_TTL_MINUTES must be > 0")
	}
	cfg.ClaimTTL = time.Duration(claimTTLMin) * time.Minute

	retentionHours, err := getEnvInt("FIELDRUN_RETENTION_HOURS", 168)
	if err != nil {
		return nil, fmt.Errorf("FIELDRUN_RETENTION_HOURS: %w", err)
	}
	if retentionHours < 1 {
		return nil, errors.New("FIELDRUN_RETENTION_HOURS must be > 0")
	}
	cfg.Retention = time.Duration(retentionHours) * time.Hour

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}
