package event

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quantfold/ordermon/monitor/observability"
)

// Handler processes one event. A nil return counts as a successful delivery.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus fans events out to registered handlers. Publishing is non-blocking
// against a bounded queue; a fixed pool of dispatch workers invokes every
// handler for the event's kind in parallel, each call bounded by a timeout.
// An event counts as delivered when at least one handler succeeds. There is
// no retry.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	queue    chan Event
	workers  int
	timeout  time.Duration
	wg       sync.WaitGroup
	closed   bool
}

// NewBus sizes the queue and worker pool; timeout bounds each handler call.
func NewBus(queueSize, workers int, timeout time.Duration) *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		queue:    make(chan Event, queueSize),
		workers:  workers,
		timeout:  timeout,
	}
}

// Register adds a handler for the kind. Multiple handlers per kind are
// allowed; registration after Start is safe.
func (b *Bus) Register(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Start launches the dispatch workers. They drain the queue until Close.
func (b *Bus) Start() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for ev := range b.queue {
				observability.BusQueueDepth.Set(float64(len(b.queue)))
				b.dispatch(ev)
			}
		}()
	}
}

// Publish enqueues the event. False means the queue was full or the bus is
// closed; the caller decides whether to drop or retry.
func (b *Bus) Publish(ev Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- ev:
		observability.EventsPublished.WithLabelValues(string(ev.EventKind())).Inc()
		observability.BusQueueDepth.Set(float64(len(b.queue)))
		return true
	default:
		observability.EventsDropped.WithLabelValues(string(ev.EventKind())).Inc()
		return false
	}
}

// Close stops intake, drains the queue with normal delivery rules, and
// joins the workers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	b.wg.Wait()
}

// QueueDepth reports how many events are waiting for dispatch.
func (b *Bus) QueueDepth() int {
	return len(b.queue)
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.EventKind()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		log.Printf("event: no handler registered for %s", ev.EventKind())
		return
	}

	// Handlers run in parallel; draining after Close must still deliver,
	// so each call gets its own timeout-bounded context.
	var wg sync.WaitGroup
	results := make(chan error, len(handlers))
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- h.Handle(ctx, ev) }()

			select {
			case err := <-done:
				results <- err
			case <-ctx.Done():
				results <- ctx.Err()
			}
		}(h)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err != nil {
			observability.HandlerFailures.WithLabelValues(string(ev.EventKind())).Inc()
			log.Printf("event: handler for %s failed: %v", ev.EventKind(), err)
			continue
		}
		succeeded++
	}
	if succeeded == 0 {
		log.Printf("event: %s %s not delivered, all handlers failed", ev.EventKind(), ev.EventID())
	}
}
