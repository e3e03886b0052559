package scheduler

import (
	"sync"

	"golang.org/x/time/rate"
)

// userLimiter hands out a token bucket per user id. The scheduler uses it
// to cap how often one user's queue refresh can hit the store, whatever the
// number of workers contending for that user.
type userLimiter struct {
	limiters map[int64]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

func newUserLimiter(r float64, b int) *userLimiter {
	return &userLimiter{
		limiters: make(map[int64]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

// Allow checks if the user is allowed to proceed.
func (l *userLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[userID]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[userID] = limiter
	}

	return limiter.Allow()
}

// forget drops limiters for users no longer in the active set.
func (l *userLimiter) forget(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, userID)
}
