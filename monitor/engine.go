package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/config"
	"github.com/quantfold/ordermon/monitor/event"
	"github.com/quantfold/ordermon/monitor/notify"
	"github.com/quantfold/ordermon/monitor/observability"
	"github.com/quantfold/ordermon/monitor/observer"
	"github.com/quantfold/ordermon/monitor/scheduler"
	"github.com/quantfold/ordermon/monitor/store"
	"github.com/quantfold/ordermon/monitor/userlog"
)

const (
	statsInterval  = 60 * time.Second
	healthInterval = 10 * time.Second
)

// Core wires the monitor together: store, cache, scheduler, event bus,
// observer, worker pool and notification hub. It holds no package-level
// state; everything hangs off the value.
type Core struct {
	cfg     config.Config
	store   store.Store
	cache   cache.Gateway
	bus     *event.Bus
	sched   *scheduler.Scheduler
	obs     *observer.Observer
	hub     *notify.Hub
	userLog userlog.Sink
	workers []*Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
	fatal  chan struct{}
	once   sync.Once
}

// NewCore assembles the monitor from its backends. fn is the host's
// transition check; ul receives the per-user activity lines.
func NewCore(cfg config.Config, s store.Store, c cache.Gateway, ul userlog.Sink, fn TransitionFunc) *Core {
	bus := event.NewBus(cfg.EventBusQueueSize, cfg.EventBusWorkers, cfg.EventHandlerTimeout)

	schedCfg := scheduler.Config{
		ActiveRefreshInterval: cfg.ActiveRefreshInterval,
		QueueRefreshInterval:  cfg.QueueRefreshInterval,
		UserLockTTL:           cfg.UserLockTTL,
		MaxInFlightPerUser:    cfg.MaxInFlightPerUser,
		RefreshPerSecond:      1,
		RefreshBurst:          1,
	}
	sched := scheduler.New(s, c, schedCfg)

	core := &Core{
		cfg:     cfg,
		store:   s,
		cache:   c,
		bus:     bus,
		sched:   sched,
		obs:     observer.New(s, c, bus, cfg.ObserverInterval, cfg.StatusCacheTTL),
		hub:     notify.NewHub(c),
		userLog: ul,
		fatal:   make(chan struct{}),
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		id := fmt.Sprintf("worker-%d", i+1)
		core.workers = append(core.workers, NewWorker(id, s, c, sched, bus, ul, fn, cfg))
	}
	return core
}

// Hub exposes the notification hub for HTTP wiring.
func (c *Core) Hub() *notify.Hub { return c.hub }

// Fatal is closed when the health watchdog decides both backends are gone
// for good. The caller should shut down.
func (c *Core) Fatal() <-chan struct{} { return c.fatal }

// Start launches every background loop. It returns immediately; Stop
// reverses it.
func (c *Core) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	event.RegisterBuiltins(c.bus, c.store, c.cache, c.userLog, c.cfg.StatusCacheTTL)
	c.bus.Start()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.obs.Run(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.Run(ctx)
	}()

	for _, w := range c.workers {
		w := w
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			w.Run(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.statsLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.healthWatchdog(ctx)
	}()

	log.Printf("core: started %d workers, batch size %d", len(c.workers), c.cfg.BatchSize)
}

// Stop cancels intake, waits for the loops to park, then drains the event
// bus. Workers release their user locks on the way out.
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.bus.Close()
	log.Printf("core: stopped")
}

// statsLoop aggregates the per-worker counters from the shared stats hash
// into a global roll-up once a minute.
func (c *Core) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStats(ctx)
		}
	}
}

func (c *Core) publishStats(ctx context.Context) {
	counters := c.cache.Counters(ctx)
	var processed, errors int64
	for k, v := range counters {
		switch {
		case strings.HasPrefix(k, "worker_") && strings.HasSuffix(k, "_processed"):
			processed += v
		case strings.HasPrefix(k, "worker_") && strings.HasSuffix(k, "_errors"):
			errors += v
		}
	}

	live := c.cache.LiveWorkers(ctx)
	depth := c.cache.QueueLen(ctx, cache.QueueOrderEvents)
	sys := c.sched.SystemStatus()

	observability.LiveWorkers.Set(float64(len(live)))
	observability.BusQueueDepth.Set(float64(c.bus.QueueDepth()))

	c.cache.UpdateCounters(ctx, map[string]int64{
		"total_processed": processed,
		"total_errors":    errors,
		"live_workers":    int64(len(live)),
		"updated_at":      time.Now().Unix(),
	})

	log.Printf("stats: processed=%d errors=%d live_workers=%d active_users=%d pending=%d in_flight=%d event_queue=%d",
		processed, errors, len(live), sys.ActiveUsers, sys.TotalPending, sys.TotalInFlight, depth)
}

// healthWatchdog pings both backends. Either one failing alone is survivable
// (store errors retry, cache degrades); both failing continuously past the
// grace period is not, and triggers shutdown.
func (c *Core) healthWatchdog(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	var failingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.healthCheck(ctx, &failingSince) {
				return
			}
		}
	}
}

// healthCheck runs one watchdog round. True means the fatal condition fired.
func (c *Core) healthCheck(ctx context.Context, failingSince *time.Time) bool {
	storeErr := c.store.Ping(ctx)
	cacheErr := c.cache.Ping(ctx)
	if storeErr == nil || cacheErr == nil {
		*failingSince = time.Time{}
		return false
	}

	if failingSince.IsZero() {
		*failingSince = time.Now()
		log.Printf("health: store and cache both unreachable (store: %v, cache: %v)", storeErr, cacheErr)
		return false
	}
	if time.Since(*failingSince) >= c.cfg.FatalGracePeriod {
		log.Printf("health: FATAL store and cache unreachable for %v, shutting down", time.Since(*failingSince).Round(time.Second))
		c.once.Do(func() { close(c.fatal) })
		return true
	}
	return false
}
