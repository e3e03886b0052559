package config

import (
	"testing"
	"time"
)

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	cfg := Default()

	if cfg.CheckInterval != 100*time.Millisecond {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}
	if cfg.QueueRefreshInterval != 5*time.Second {
		t.Errorf("QueueRefreshInterval = %v", cfg.QueueRefreshInterval)
	}
	if cfg.ActiveRefreshInterval != 30*time.Second {
		t.Errorf("ActiveRefreshInterval = %v", cfg.ActiveRefreshInterval)
	}
	if cfg.UserLockTTL != 300*time.Second {
		t.Errorf("UserLockTTL = %v", cfg.UserLockTTL)
	}
	if cfg.MaxInFlightPerUser != 3 {
		t.Errorf("MaxInFlightPerUser = %d", cfg.MaxInFlightPerUser)
	}
	if cfg.HeartbeatInterval != 30*time.Second || cfg.HeartbeatTTL != 60*time.Second {
		t.Errorf("heartbeat = %v / %v", cfg.HeartbeatInterval, cfg.HeartbeatTTL)
	}
	if cfg.EventBusWorkers != 5 || cfg.EventHandlerTimeout != 30*time.Second {
		t.Errorf("event bus = %d workers, %v timeout", cfg.EventBusWorkers, cfg.EventHandlerTimeout)
	}
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("WORKER_COUNT", "9")
	t.Setenv("CHECK_INTERVAL", "250ms")
	t.Setenv("REDIS_ADDR", "cache.internal:6380")
	t.Setenv("USER_LOCK_TTL", "2m")

	cfg := FromEnv()
	if cfg.WorkerCount != 9 {
		t.Errorf("WorkerCount = %d, want 9", cfg.WorkerCount)
	}
	if cfg.CheckInterval != 250*time.Millisecond {
		t.Errorf("CheckInterval = %v, want 250ms", cfg.CheckInterval)
	}
	if cfg.RedisAddr != "cache.internal:6380" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.UserLockTTL != 2*time.Minute {
		t.Errorf("UserLockTTL = %v, want 2m", cfg.UserLockTTL)
	}
	// Untouched values keep their defaults.
	if cfg.BatchSize != Default().BatchSize {
		t.Errorf("BatchSize = %d, want default", cfg.BatchSize)
	}
}

func TestFromEnvIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("CHECK_INTERVAL", "soon")

	cfg := FromEnv()
	if cfg.WorkerCount != Default().WorkerCount {
		t.Errorf("WorkerCount = %d, want default on bad input", cfg.WorkerCount)
	}
	if cfg.CheckInterval != Default().CheckInterval {
		t.Errorf("CheckInterval = %v, want default on bad input", cfg.CheckInterval)
	}
}
