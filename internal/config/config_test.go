package config

import (
	"testing"
	"time"
)

func TestLoad_AllVarsSet(t *testing.T) {
	t.Setenv("FIELDRUN_API_KEYS", "key1,key2")
	t.Setenv("FIELDRUN_LISTEN_ADDR", ":9090")
	t.Setenv("FIELDRUN_STORE", "redis")
	t.Setenv("FIELDRUN_REDIS_ADDR", "redis-1:6379")
	t.Setenv("FIELDRUN_REDIS_DB", "3")
	t.Setenv("FIELDRUN_EXECUTOR_URL", "http://executor:9321")
	t.Setenv("FIELDRUN_EXECUTOR_TIMEOUT_SECONDS", "90")
	t.Setenv("FIELDRUN_WORKER_ID", "van-7")
	t.Setenv("FIELDRUN_POLL_INTERVAL_MS", "250")
	t.Setenv("FIELDRUN_RETRY_ATTEMPTS", "6")
	t.Setenv("FIELDRUN_MAX_CONCURRENT_TABS", "4")
	t.Setenv("FIELDRUN_CLAIM_TTL_MINUTES", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key1" || cfg.APIKeys[1] != "key2" {
		t.Errorf("APIKeys = %v, want [key1 key2]", cfg.APIKeys)
	}
	if cfg.Store != "redis" {
		t.Errorf("Store = %q, want redis", cfg.Store)
	}
	if cfg.RedisAddr != "redis-1:6379" || cfg.RedisDB != 3 {
		t.Errorf("Redis = %q/%d, want redis-1:6379/3", cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.ExecutorURL != "http://executor:9321" {
		t.Errorf("ExecutorURL = %q", cfg.ExecutorURL)
	}
	if cfg.ExecutorTimeout != 90*time.Second {
		t.Errorf("ExecutorTimeout = %v, want 90s", cfg.ExecutorTimeout)
	}
	if cfg.WorkerID != "van-7" {
		t.Errorf("WorkerID = %q, want van-7", cfg.WorkerID)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
	if cfg.RetryAttempts != 6 {
		t.Errorf("RetryAttempts = %d, want 6", cfg.RetryAttempts)
	}
	if cfg.MaxConcurrentTabs != 4 {
		t.Errorf("MaxConcurrentTabs = %d, want 4", cfg.MaxConcurrentTabs)
	}
	if cfg.ClaimTTL != 30*time.Minute {
		t.Errorf("ClaimTTL = %v, want 30m", cfg.ClaimTTL)
	}
}

func TestLoad_MissingAPIKeys(t *testing.T) {
	t.Setenv("FIELDRUN_API_KEYS", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when FIELDRUN_API_KEYS is empty, got nil")
	}
}

func TestLoad_InvalidStore(t *testing.T) {
	t.Setenv("FIELDRUN_API_KEYS", "somekey")
	t.Setenv("FIELDRUN_STORE", "postgres")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unknown store, got nil")
	}
}

func TestLoad_PollIntervalTooSmall(t *testing.T) {
	t.Setenv("FIELDRUN_API_KEYS", "somekey")
	t.Setenv("FIELDRUN_POLL_INTERVAL_MS", "50")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for sub-100ms poll interval, got nil")
	}
}

func TestLoad_InvalidInteger(t *testing.T) {
	t.Setenv("FIELDRUN_API_KEYS", "somekey")
	t.Setenv("FIELDRUN_RETRY_ATTEMPTS", "four")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for non-numeric retry attempts, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FIELDRUN_API_KEYS", "defaultkey")
	t.Setenv("FIELDRUN_LISTEN_ADDR", "")
	t.Setenv("FIELDRUN_STORE", "")
	t.Setenv("FIELDRUN_DB_PATH", "")
	t.Setenv("FIELDRUN_POLL_ENABLED", "")
	t.Setenv("FIELDRUN_POLL_INTERVAL_MS", "")
	t.Setenv("FIELDRUN_RETRY_ATTEMPTS", "")
	t.Setenv("FIELDRUN_RETRY_BASE_DELAY_MS", "")
	t.Setenv("FIELDRUN_MAX_CONCURRENT_TABS", "")
	t.Setenv("FIELDRUN_MAINTENANCE_SCHEDULE", "")
	t.Setenv("FIELDRUN_WORKER_ID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error with defaults, got: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.Store != "sqlite" {
		t.Errorf("default Store = %q, want sqlite", cfg.Store)
	}
	if cfg.DBPath != "fieldrun.db" {
		t.Errorf("default DBPath = %q, want fieldrun.db", cfg.DBPath)
	}
	if !cfg.PollEnabled {
		t.Error("default PollEnabled = false, want true")
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("default PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.RetryAttempts != 4 {
		t.Errorf("default RetryAttempts = %d, want 4", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("default RetryBaseDelay = %v, want 500ms", cfg.RetryBaseDelay)
	}
	if cfg.MaxConcurrentTabs != 2 {
		t.Errorf("default MaxConcurrentTabs = %d, want 2", cfg.MaxConcurrentTabs)
	}
	if cfg.MaintenanceSchedule != "@every 5m" {
		t.Errorf("default MaintenanceSchedule = %q, want @every 5m", cfg.MaintenanceSchedule)
	}
	if cfg.ClaimTTL != 15*time.Minute {
		t.Errorf("default ClaimTTL = %v, want 15m", cfg.ClaimTTL)
	}
	if cfg.Retention != 168*time.Hour {
		t.Errorf("default Retention = %v, want 168h", cfg.Retention)
	}
	if cfg.WorkerID == "" {
		t.Error("default WorkerID should fall back to the hostname")
	}
}

func TestLoad_PollDisabled(t *testing.T) {
	t.Setenv("FIELDRUN_API_KEYS", "somekey")
	t.Setenv("FIELDRUN_POLL_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollEnabled {
		t.Error("PollEnabled = true, want false")
	}
}
