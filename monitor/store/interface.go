package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("store: row not found")

// Store is the authoritative relational backend. Implementations return
// (nil, nil) for single-row lookups that find nothing.
type Store interface {
	// ActiveUsers runs the grouping query behind scheduling: distinct users
	// holding Pending/Partial orders, restricted to enabled users and open
	// groups, ordered by order count then average priority, both descending.
	ActiveUsers(ctx context.Context) ([]ActiveUser, error)

	// UserWorkingSet returns the user's Pending and Partial orders ordered
	// by priority descending, created_at ascending.
	UserWorkingSet(ctx context.Context, userID int64) ([]*Order, error)

	GetUser(ctx context.Context, userID int64) (*User, error)
	GetGroup(ctx context.Context, groupID int64) (*OrderGroup, error)

	// SnapshotUsers and SnapshotGroups feed the status observer; each call
	// is a single query round.
	SnapshotUsers(ctx context.Context) ([]*User, error)
	SnapshotGroups(ctx context.Context) ([]*OrderGroup, error)

	// UserGroups returns all groups owned by the user.
	UserGroups(ctx context.Context, userID int64) ([]*OrderGroup, error)

	// CountGroupActiveOrders counts the group's Pending and Partial orders.
	CountGroupActiveOrders(ctx context.Context, groupID int64) (int, error)

	// UpdateOrderStatus persists a transition: status, filled quantity,
	// updated_at, and filled_at when the order becomes Filled.
	UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus, filled float64) error

	AppendStatusLog(ctx context.Context, entry *StatusLog) error

	Ping(ctx context.Context) error
}

// retryBackoff is the pause before the single retry of a transient failure.
const retryBackoff = 100 * time.Millisecond

// withRetry runs op, and on failure retries exactly once after a short
// backoff. Deadlocks, timeouts and dropped connections usually clear on the
// second attempt; anything that survives both is returned to the caller,
// who abandons the operation and continues its loop.
func withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryBackoff):
	}
	return op()
}
