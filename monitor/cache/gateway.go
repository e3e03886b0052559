package cache

import (
	"context"
	"time"

	"github.com/quantfold/ordermon/monitor/store"
)

// Gateway is the typed facade over the shared key-value cache. It is a
// best-effort fast path: every operation logs transport errors and returns
// its failure form instead of propagating, so callers can always fall back
// to the authoritative store.
type Gateway interface {
	// UserStatus returns the cached status hint; ok is false on a miss or
	// a cache error (the Unknown form).
	UserStatus(ctx context.Context, userID int64) (store.UserState, bool)
	SetUserStatus(ctx context.Context, userID int64, status store.UserState, ttl time.Duration) bool
	GroupStatus(ctx context.Context, groupID int64) (store.GroupState, bool)
	SetGroupStatus(ctx context.Context, groupID int64, status store.GroupState, ttl time.Duration) bool

	// Set stores an arbitrary value under key with a TTL. Used for the
	// per-order status hints.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool

	// AcquireUserLock is an atomic set-if-absent with expiry. True means
	// this caller now holds the lock.
	AcquireUserLock(ctx context.Context, userID int64, workerID string, ttl time.Duration) bool
	// ReleaseUserLock deletes the lock only if workerID still holds it,
	// as one atomic script on the cache server. A release by a non-holder
	// is a no-op that logs a warning.
	ReleaseUserLock(ctx context.Context, userID int64, workerID string) bool

	MarkOrderProcessing(ctx context.Context, orderID int64, workerID string, ttl time.Duration) bool
	ClearOrderProcessing(ctx context.Context, orderID int64)
	IsOrderProcessing(ctx context.Context, orderID int64) bool

	// PushQueue appends payload to the named FIFO; PopQueue removes the
	// oldest entry, ok false when empty.
	PushQueue(ctx context.Context, name string, payload []byte) bool
	PopQueue(ctx context.Context, name string) ([]byte, bool)
	QueueLen(ctx context.Context, name string) int

	RecordHeartbeat(ctx context.Context, workerID string, ttl time.Duration) bool
	// LiveWorkers enumerates heartbeat keys whose TTL has not expired.
	LiveWorkers(ctx context.Context) []string

	UpdateCounters(ctx context.Context, counters map[string]int64) bool
	Counters(ctx context.Context) map[string]int64

	Ping(ctx context.Context) error
}
