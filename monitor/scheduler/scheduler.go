// Package scheduler selects which user's orders the next free worker should
// process. It keeps the registry of active users, their priority scores and
// their order queues, and grants exclusive per-user access through the
// cache's distributed lock.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/observability"
	"github.com/quantfold/ordermon/monitor/store"
)

// Priority score weights, taken from the original policy: order volume
// dominates, average order priority breaks the bulk ties.
const (
	scoreCountWeight    = 0.7
	scorePriorityWeight = 0.3
)

// Config carries the scheduler's tunables.
type Config struct {
	ActiveRefreshInterval time.Duration // active-user set recheck cadence
	QueueRefreshInterval  time.Duration // per-user working set cadence
	UserLockTTL           time.Duration
	MaxInFlightPerUser    int
	// RefreshPerSecond caps store refreshes per user across all workers.
	RefreshPerSecond float64
	RefreshBurst     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ActiveRefreshInterval: 30 * time.Second,
		QueueRefreshInterval:  5 * time.Second,
		UserLockTTL:           300 * time.Second,
		MaxInFlightPerUser:    3,
		RefreshPerSecond:      1,
		RefreshBurst:          1,
	}
}

// Scheduler owns every per-user queue; workers only ever see order copies
// plus the assurance that they hold the user lock.
type Scheduler struct {
	store store.Store
	cache cache.Gateway
	cfg   Config

	mu            sync.Mutex
	active        map[int64]struct{}
	scores        map[int64]float64
	queues        map[int64]*UserQueue
	lastRefresh   time.Time
	cursor        int
	refreshTokens *userLimiter
}

// New builds a scheduler over the given store and cache.
func New(s store.Store, c cache.Gateway, cfg Config) *Scheduler {
	return &Scheduler{
		store:         s,
		cache:         c,
		cfg:           cfg,
		active:        make(map[int64]struct{}),
		scores:        make(map[int64]float64),
		queues:        make(map[int64]*UserQueue),
		refreshTokens: newUserLimiter(cfg.RefreshPerSecond, cfg.RefreshBurst),
	}
}

// RefreshActiveUsers reloads the active-user set from the store, at most
// once per ActiveRefreshInterval. Queues of users that left the set are
// dropped. Returns the active-set size.
func (s *Scheduler) RefreshActiveUsers(ctx context.Context) int {
	s.mu.Lock()
	if time.Since(s.lastRefresh) < s.cfg.ActiveRefreshInterval {
		n := len(s.active)
		s.mu.Unlock()
		return n
	}
	s.mu.Unlock()

	rows, err := s.store.ActiveUsers(ctx)
	if err != nil {
		log.Printf("scheduler: refresh active users: %v", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.active)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		fresh[row.UserID] = struct{}{}
		s.scores[row.UserID] = float64(row.OrderCount)*scoreCountWeight +
			row.AvgPriority*scorePriorityWeight
	}

	for userID := range s.active {
		if _, still := fresh[userID]; !still {
			delete(s.queues, userID)
			delete(s.scores, userID)
			s.refreshTokens.forget(userID)
		}
	}

	s.active = fresh
	s.lastRefresh = time.Now()
	observability.ActiveUsers.Set(float64(len(s.active)))
	log.Printf("scheduler: active user set refreshed, %d users", len(s.active))
	return len(s.active)
}

// LeaseBatch grants the worker exclusive access to one user and returns up
// to batchSize of that user's orders. The worker keeps the user lock until
// it calls Release. (0, nil) means no user currently has leasable work.
func (s *Scheduler) LeaseBatch(ctx context.Context, workerID string, batchSize int) (int64, []*store.Order) {
	s.RefreshActiveUsers(ctx)

	for _, userID := range s.candidates() {
		if !s.cache.AcquireUserLock(ctx, userID, workerID, s.cfg.UserLockTTL) {
			observability.LeaseResults.WithLabelValues("contended").Inc()
			continue
		}

		queue := s.queue(userID)
		if queue.NeedsRefresh() && s.refreshTokens.Allow(userID) {
			queue.Refresh(ctx)
		}

		var batch []*store.Order
		for len(batch) < batchSize {
			o := queue.Take()
			if o == nil {
				break
			}
			batch = append(batch, o)
		}

		if len(batch) > 0 {
			observability.LeaseResults.WithLabelValues("granted").Inc()
			return userID, batch
		}
		s.Release(ctx, userID, workerID)
	}

	observability.LeaseResults.WithLabelValues("empty").Inc()
	return 0, nil
}

// Release returns the user lock. Safe to call twice: the second release is
// a no-op on the cache side.
func (s *Scheduler) Release(ctx context.Context, userID int64, workerID string) {
	s.cache.ReleaseUserLock(ctx, userID, workerID)
}

// MarkComplete removes the order from the user's in-flight set.
func (s *Scheduler) MarkComplete(userID, orderID int64) {
	s.mu.Lock()
	queue := s.queues[userID]
	s.mu.Unlock()
	if queue != nil {
		queue.Complete(orderID)
	}
}

// SystemStatus aggregates queue counts for the stats loop.
type SystemStatus struct {
	ActiveUsers   int
	TotalPending  int
	TotalInFlight int
}

func (s *Scheduler) SystemStatus() SystemStatus {
	s.mu.Lock()
	queues := make([]*UserQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	activeCount := len(s.active)
	s.mu.Unlock()

	st := SystemStatus{ActiveUsers: activeCount}
	for _, q := range queues {
		qs := q.Status()
		st.TotalPending += qs.Pending
		st.TotalInFlight += qs.InFlight
	}
	return st
}

// candidates returns the active users ordered by descending score. Runs of
// equal score are rotated by a cursor advanced on every call, so equally
// loaded users see lock pressure in turn rather than always in id order.
func (s *Scheduler) candidates() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]int64, 0, len(s.active))
	for userID := range s.active {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool {
		si, sj := s.scores[users[i]], s.scores[users[j]]
		if si != sj {
			return si > sj
		}
		return users[i] < users[j]
	})

	s.cursor++
	for lo := 0; lo < len(users); {
		hi := lo + 1
		for hi < len(users) && s.scores[users[hi]] == s.scores[users[lo]] {
			hi++
		}
		if n := hi - lo; n > 1 {
			rotate(users[lo:hi], s.cursor%n)
		}
		lo = hi
	}
	return users
}

// queue returns the user's queue, creating it on first observation.
func (s *Scheduler) queue(userID int64) *UserQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[userID]
	if !ok {
		q = NewUserQueue(userID, s.store, s.cfg.QueueRefreshInterval, s.cfg.MaxInFlightPerUser)
		s.queues[userID] = q
	}
	return q
}

func rotate(xs []int64, k int) {
	if k == 0 {
		return
	}
	rotated := make([]int64, 0, len(xs))
	rotated = append(rotated, xs[k:]...)
	rotated = append(rotated, xs[:k]...)
	copy(xs, rotated)
}
