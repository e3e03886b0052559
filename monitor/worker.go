package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/config"
	"github.com/quantfold/ordermon/monitor/event"
	"github.com/quantfold/ordermon/monitor/observability"
	"github.com/quantfold/ordermon/monitor/scheduler"
	"github.com/quantfold/ordermon/monitor/store"
	"github.com/quantfold/ordermon/monitor/userlog"
)

// Transition is the outcome of one exchange check for one order. Changed
// false means the order looks the same as last time.
type Transition struct {
	Changed   bool
	NewStatus store.OrderStatus
	NewFilled float64
}

// TransitionFunc asks the host how an order has progressed. The monitor owns
// persistence and fan-out; the host owns the exchange conversation.
type TransitionFunc func(ctx context.Context, o *store.Order) (Transition, error)

// Worker drains order batches leased from the scheduler. One goroutine per
// worker; all state below is touched only by that goroutine.
type Worker struct {
	id         string
	store      store.Store
	cache      cache.Gateway
	sched      *scheduler.Scheduler
	bus        *event.Bus
	userLog    userlog.Sink
	transition TransitionFunc
	cfg        config.Config

	processed     int64
	errorCount    int64
	lastHeartbeat time.Time
}

// NewWorker builds a worker with the given id (unique per process).
func NewWorker(id string, s store.Store, c cache.Gateway, sched *scheduler.Scheduler, b *event.Bus, ul userlog.Sink, fn TransitionFunc, cfg config.Config) *Worker {
	return &Worker{
		id:         id,
		store:      s,
		cache:      c,
		sched:      sched,
		bus:        b,
		userLog:    ul,
		transition: fn,
		cfg:        cfg,
	}
}

// Run loops until the context is cancelled: heartbeat, lease, process,
// release. Idle rounds sleep for the check interval.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker %s: started", w.id)
	defer log.Printf("worker %s: stopped", w.id)

	for {
		if ctx.Err() != nil {
			return
		}
		w.heartbeat(ctx)

		userID, batch := w.sched.LeaseBatch(ctx, w.id, w.cfg.BatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.CheckInterval):
			}
			continue
		}

		for _, o := range batch {
			w.processOrder(ctx, o)
			w.sched.MarkComplete(userID, o.ID)
			if ctx.Err() != nil {
				break
			}
		}
		w.sched.Release(ctx, userID, w.id)
		w.flushCounters(ctx)
	}
}

// heartbeat refreshes the worker's liveness key when the interval is due.
// The TTL is twice the interval so one missed beat does not drop the worker.
func (w *Worker) heartbeat(ctx context.Context) {
	if time.Since(w.lastHeartbeat) < w.cfg.HeartbeatInterval {
		return
	}
	if w.cache.RecordHeartbeat(ctx, w.id, w.cfg.HeartbeatTTL) {
		w.lastHeartbeat = time.Now()
	}
}

// processOrder claims the processing mark, checks eligibility, asks the host
// for the transition, and persists plus fans out any change.
func (w *Worker) processOrder(ctx context.Context, o *store.Order) {
	if !w.cache.MarkOrderProcessing(ctx, o.ID, w.id, w.cfg.OrderProcessingTTL) {
		// Another worker got here first; nothing to undo.
		return
	}
	defer w.cache.ClearOrderProcessing(ctx, o.ID)

	if !w.eligible(ctx, o) {
		return
	}

	if o.FilledQuantity > o.Quantity {
		log.Printf("worker %s: ERROR order %d filled %g exceeds quantity %g, skipping",
			w.id, o.ID, o.FilledQuantity, o.Quantity)
		w.fail()
		return
	}

	tr, err := w.transition(ctx, o)
	if err != nil {
		log.Printf("worker %s: transition order %d: %v", w.id, o.ID, err)
		w.fail()
		return
	}
	if !tr.Changed {
		return
	}

	if !o.Status.CanTransitionTo(tr.NewStatus) {
		log.Printf("worker %s: ERROR order %d illegal transition %s -> %s, skipping",
			w.id, o.ID, o.Status, tr.NewStatus)
		w.fail()
		return
	}
	if tr.NewFilled > o.Quantity {
		log.Printf("worker %s: ERROR order %d new fill %g exceeds quantity %g, skipping",
			w.id, o.ID, tr.NewFilled, o.Quantity)
		w.fail()
		return
	}

	if err := w.store.UpdateOrderStatus(ctx, o.ID, tr.NewStatus, tr.NewFilled); err != nil {
		log.Printf("worker %s: update order %d: %v", w.id, o.ID, err)
		w.fail()
		return
	}
	if err := w.store.AppendStatusLog(ctx, &store.StatusLog{
		OrderID:   o.ID,
		OldStatus: o.Status,
		NewStatus: tr.NewStatus,
		OldFilled: o.FilledQuantity,
		NewFilled: tr.NewFilled,
		Reason:    "exchange status check",
	}); err != nil {
		log.Printf("worker %s: status log order %d: %v", w.id, o.ID, err)
	}

	ev := event.OrderStatusChanged{
		Header:         event.NewHeader(),
		OrderID:        o.ID,
		UserID:         o.UserID,
		GroupID:        o.GroupID,
		OldStatus:      o.Status,
		NewStatus:      tr.NewStatus,
		FilledQuantity: tr.NewFilled,
		Symbol:         o.Symbol,
	}
	if !w.bus.Publish(ev) {
		log.Printf("worker %s: bus rejected order event %s", w.id, ev.EventID())
	}
	if payload, err := event.Encode(ev); err == nil {
		w.cache.PushQueue(ctx, cache.QueueOrderEvents, payload)
	}
	w.userLog.Printf(o.UserID, "order[%s] %s -> %s, filled %g/%g",
		o.OrderNo, o.Status, tr.NewStatus, tr.NewFilled, o.Quantity)

	w.processed++
	observability.OrdersProcessed.WithLabelValues(w.id).Inc()
}

// eligible reports whether the order's user and group still allow
// processing. Status hints come from the cache; a miss reads through to the
// store and warms the hint.
func (w *Worker) eligible(ctx context.Context, o *store.Order) bool {
	userStatus, ok := w.cache.UserStatus(ctx, o.UserID)
	if !ok {
		u, err := w.store.GetUser(ctx, o.UserID)
		if err != nil {
			log.Printf("worker %s: read user %d: %v", w.id, o.UserID, err)
			return false
		}
		if u == nil {
			log.Printf("worker %s: order %d references unknown user %d, skipping", w.id, o.ID, o.UserID)
			return false
		}
		userStatus = u.Status
		w.cache.SetUserStatus(ctx, o.UserID, userStatus, w.cfg.StatusCacheTTL)
	}
	if userStatus != store.UserEnabled {
		return false
	}

	if o.GroupID == 0 {
		return true
	}
	groupStatus, ok := w.cache.GroupStatus(ctx, o.GroupID)
	if !ok {
		g, err := w.store.GetGroup(ctx, o.GroupID)
		if err != nil {
			log.Printf("worker %s: read group %d: %v", w.id, o.GroupID, err)
			return false
		}
		if g == nil {
			log.Printf("worker %s: order %d references unknown group %d, skipping", w.id, o.ID, o.GroupID)
			return false
		}
		groupStatus = g.Status
		w.cache.SetGroupStatus(ctx, o.GroupID, groupStatus, w.cfg.StatusCacheTTL)
	}
	return groupStatus == store.GroupOpen
}

func (w *Worker) fail() {
	w.errorCount++
	observability.OrderErrors.WithLabelValues(w.id).Inc()
}

// flushCounters mirrors the worker's running totals into the shared stats
// hash for the stats loop to aggregate.
func (w *Worker) flushCounters(ctx context.Context) {
	w.cache.UpdateCounters(ctx, map[string]int64{
		fmt.Sprintf("worker_%s_processed", w.id): w.processed,
		fmt.Sprintf("worker_%s_errors", w.id):    w.errorCount,
	})
}
