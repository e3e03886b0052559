package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/ordermon/monitor/observability"
	"github.com/quantfold/ordermon/monitor/store"
)

// UserQueue holds one user's working set: the prioritized sequence of
// processable orders plus the set of ids currently in flight. The sequence
// and the in-flight set are disjoint at every observation point.
type UserQueue struct {
	userID int64
	store  store.Store

	mu              sync.Mutex
	pending         []*store.Order
	inFlight        map[int64]struct{}
	lastRefresh     time.Time
	refreshInterval time.Duration
	maxInFlight     int
}

// QueueStatus is a point-in-time snapshot of a queue's counts.
type QueueStatus struct {
	UserID      int64
	Pending     int
	InFlight    int
	LastRefresh time.Time
}

// NewUserQueue binds a queue to its user and store.
func NewUserQueue(userID int64, s store.Store, refreshInterval time.Duration, maxInFlight int) *UserQueue {
	return &UserQueue{
		userID:          userID,
		store:           s,
		inFlight:        make(map[int64]struct{}),
		refreshInterval: refreshInterval,
		maxInFlight:     maxInFlight,
	}
}

// NeedsRefresh reports whether the working set is older than the refresh
// interval.
func (q *UserQueue) NeedsRefresh() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return time.Since(q.lastRefresh) > q.refreshInterval
}

// Refresh replaces the sequence with the user's current Pending/Partial
// orders, minus any id still in flight, sorted by descending priority then
// ascending created-at. A store error leaves the queue untouched. Returns
// the number of orders now queued.
func (q *UserQueue) Refresh(ctx context.Context) int {
	orders, err := q.store.UserWorkingSet(ctx, q.userID)
	if err != nil {
		log.Printf("scheduler: refresh user %d orders: %v", q.userID, err)
		return 0
	}
	observability.QueueRefreshes.Inc()

	q.mu.Lock()
	defer q.mu.Unlock()

	fresh := orders[:0]
	for _, o := range orders {
		if _, busy := q.inFlight[o.ID]; busy {
			continue
		}
		fresh = append(fresh, o)
	}
	// The store already orders the working set; keep the sort as a local
	// guarantee independent of the backend.
	sort.SliceStable(fresh, func(i, j int) bool {
		if fresh[i].Priority != fresh[j].Priority {
			return fresh[i].Priority > fresh[j].Priority
		}
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})

	q.pending = fresh
	q.lastRefresh = time.Now()
	return len(q.pending)
}

// Take removes and returns the next order, or nil when the sequence is
// empty or the in-flight bound is reached. The returned order's id is in
// the in-flight set before Take returns, so no two calls yield the same id.
func (q *UserQueue) Take() *store.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inFlight) >= q.maxInFlight {
		return nil
	}
	if len(q.pending) == 0 {
		return nil
	}

	o := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight[o.ID] = struct{}{}
	return o
}

// Complete removes the id from the in-flight set. Completing an id that was
// never taken is a no-op.
func (q *UserQueue) Complete(orderID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, orderID)
}

// Status reports the queue's current counts.
func (q *UserQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		UserID:      q.userID,
		Pending:     len(q.pending),
		InFlight:    len(q.inFlight),
		LastRefresh: q.lastRefresh,
	}
}
