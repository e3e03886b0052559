package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersProcessed counts orders whose transition completed and persisted.
	OrdersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermon_orders_processed_total",
		Help: "Orders processed to completion, per worker",
	}, []string{"worker"})

	// OrderErrors counts per-order failures (store, transition, invariant).
	OrderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermon_order_errors_total",
		Help: "Per-order processing failures, per worker",
	}, []string{"worker"})

	// LeaseResults tracks scheduler lease outcomes.
	LeaseResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermon_lease_results_total",
		Help: "Lease attempts by outcome (granted, contended, empty)",
	}, []string{"result"})

	// ActiveUsers is the size of the scheduler's active-user set.
	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordermon_active_users",
		Help: "Users currently holding processable orders",
	})

	// LiveWorkers is the number of workers with a live heartbeat.
	LiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordermon_live_workers",
		Help: "Workers with an unexpired heartbeat",
	})

	// EventsPublished counts events accepted by the bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermon_events_published_total",
		Help: "Events accepted onto the event bus, by kind",
	}, []string{"kind"})

	// EventsDropped counts publishes rejected by a full bus queue.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermon_events_dropped_total",
		Help: "Event publishes rejected due to a full queue, by kind",
	}, []string{"kind"})

	// HandlerFailures counts handler errors and timeouts.
	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermon_event_handler_failures_total",
		Help: "Event handler invocations that failed or timed out, by kind",
	}, []string{"kind"})

	// BusQueueDepth is the number of events waiting for dispatch.
	BusQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordermon_event_bus_queue_depth",
		Help: "Events queued on the in-process bus",
	})

	// ObserverDiffDuration times one snapshot-and-diff round.
	ObserverDiffDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ordermon_observer_diff_duration_seconds",
		Help:    "Duration of one status snapshot and diff round",
		Buckets: prometheus.DefBuckets,
	})

	// StatusChanges counts changes detected by the observer.
	StatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordermon_status_changes_total",
		Help: "User and group status changes detected, by kind",
	}, []string{"kind"})

	// CacheLatency tracks cache operation roundtrip latency.
	CacheLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ordermon_cache_roundtrip_latency_seconds",
		Help:    "Cache operation latency (coordination spine health)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// QueueRefreshes counts user queue refreshes against the store.
	QueueRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordermon_queue_refreshes_total",
		Help: "User order queue refreshes issued to the store",
	})
)
