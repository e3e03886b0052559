// Package config carries the recognized configuration surface. Values come
// from defaults overridden by environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the monitor recognizes.
type Config struct {
	// Backends.
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ListenAddr    string
	UserLogDir    string

	// Worker pool.
	WorkerCount   int
	BatchSize     int
	CheckInterval time.Duration

	// Scheduler.
	QueueRefreshInterval  time.Duration
	ActiveRefreshInterval time.Duration
	UserLockTTL           time.Duration
	MaxInFlightPerUser    int

	// Processing marks and hints.
	OrderProcessingTTL time.Duration
	StatusCacheTTL     time.Duration

	// Liveness.
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	FatalGracePeriod  time.Duration

	// Observer and event bus.
	ObserverInterval    time.Duration
	EventBusWorkers     int
	EventBusQueueSize   int
	EventHandlerTimeout time.Duration
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		PostgresDSN:   "postgres://localhost:5432/order_monitor",
		RedisAddr:     "localhost:6379",
		ListenAddr:    ":9180",
		UserLogDir:    "logs",
		WorkerCount:   4,
		BatchSize:     100,
		CheckInterval: 100 * time.Millisecond,

		QueueRefreshInterval:  5 * time.Second,
		ActiveRefreshInterval: 30 * time.Second,
		UserLockTTL:           300 * time.Second,
		MaxInFlightPerUser:    3,

		OrderProcessingTTL: 300 * time.Second,
		StatusCacheTTL:     3600 * time.Second,

		HeartbeatInterval: 30 * time.Second,
		HeartbeatTTL:      60 * time.Second,
		FatalGracePeriod:  60 * time.Second,

		ObserverInterval:    5 * time.Second,
		EventBusWorkers:     5,
		EventBusQueueSize:   1000,
		EventHandlerTimeout: 30 * time.Second,
	}
}

// FromEnv returns the defaults overridden by environment variables.
func FromEnv() Config {
	cfg := Default()

	stringVar(&cfg.PostgresDSN, "POSTGRES_DSN")
	stringVar(&cfg.RedisAddr, "REDIS_ADDR")
	stringVar(&cfg.RedisPassword, "REDIS_PASSWORD")
	intVar(&cfg.RedisDB, "REDIS_DB")
	stringVar(&cfg.ListenAddr, "LISTEN_ADDR")
	stringVar(&cfg.UserLogDir, "USER_LOG_DIR")

	intVar(&cfg.WorkerCount, "WORKER_COUNT")
	intVar(&cfg.BatchSize, "BATCH_SIZE")
	durationVar(&cfg.CheckInterval, "CHECK_INTERVAL")

	durationVar(&cfg.QueueRefreshInterval, "QUEUE_REFRESH_INTERVAL")
	durationVar(&cfg.ActiveRefreshInterval, "ACTIVE_REFRESH_INTERVAL")
	durationVar(&cfg.UserLockTTL, "USER_LOCK_TTL")
	intVar(&cfg.MaxInFlightPerUser, "MAX_IN_FLIGHT_PER_USER")

	durationVar(&cfg.OrderProcessingTTL, "ORDER_PROCESSING_TTL")
	durationVar(&cfg.StatusCacheTTL, "STATUS_CACHE_TTL")

	durationVar(&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL")
	durationVar(&cfg.HeartbeatTTL, "HEARTBEAT_TTL")
	durationVar(&cfg.FatalGracePeriod, "FATAL_GRACE_PERIOD")

	durationVar(&cfg.ObserverInterval, "OBSERVER_INTERVAL")
	intVar(&cfg.EventBusWorkers, "EVENT_BUS_WORKERS")
	intVar(&cfg.EventBusQueueSize, "EVENT_BUS_QUEUE_SIZE")
	durationVar(&cfg.EventHandlerTimeout, "EVENT_HANDLER_TIMEOUT")

	return cfg
}

func stringVar(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func intVar(dst *int, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: ignoring %s=%q: %v", name, v, err)
		return
	}
	*dst = n
}

func durationVar(dst *time.Duration, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: ignoring %s=%q: %v", name, v, err)
		return
	}
	*dst = d
}
