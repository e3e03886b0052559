package cache

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/quantfold/ordermon/monitor/store"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryGateway implements Gateway in process memory with real TTL expiry,
// so lock and mark lifetimes behave as they do against a cache server.
// Single-process only; it backs tests and cache-less development runs.
type MemoryGateway struct {
	mu       sync.Mutex
	entries  map[string]entry
	queues   map[string][][]byte
	counters map[string]int64
	err      error
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		entries:  make(map[string]entry),
		queues:   make(map[string][][]byte),
		counters: make(map[string]int64),
	}
}

// FailWith makes every subsequent operation behave as a transport failure.
// Pass nil to recover.
func (g *MemoryGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *MemoryGateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// get resolves key honoring expiry; caller must hold mu.
func (g *MemoryGateway) get(key string) (string, bool) {
	e, ok := g.entries[key]
	if !ok {
		return "", false
	}
	if e.expired(time.Now()) {
		delete(g.entries, key)
		return "", false
	}
	return e.value, true
}

// put stores key; caller must hold mu.
func (g *MemoryGateway) put(key, value string, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	g.entries[key] = e
}

func (g *MemoryGateway) UserStatus(ctx context.Context, userID int64) (store.UserState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, false
	}
	val, ok := g.get(userStatusKey(userID))
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return store.UserState(n), true
}

func (g *MemoryGateway) SetUserStatus(ctx context.Context, userID int64, status store.UserState, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	g.put(userStatusKey(userID), strconv.Itoa(int(status)), ttl)
	return true
}

func (g *MemoryGateway) GroupStatus(ctx context.Context, groupID int64) (store.GroupState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, false
	}
	val, ok := g.get(groupStatusKey(groupID))
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return store.GroupState(n), true
}

func (g *MemoryGateway) SetGroupStatus(ctx context.Context, groupID int64, status store.GroupState, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	g.put(groupStatusKey(groupID), strconv.Itoa(int(status)), ttl)
	return true
}

func (g *MemoryGateway) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	g.put(key, string(value), ttl)
	return true
}

// Get returns a raw value; exposed for tests that inspect hints.
func (g *MemoryGateway) Get(ctx context.Context, key string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	val, ok := g.get(key)
	if !ok {
		return nil, false
	}
	return []byte(val), true
}

func (g *MemoryGateway) AcquireUserLock(ctx context.Context, userID int64, workerID string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	key := userLockKey(userID)
	if _, held := g.get(key); held {
		return false
	}
	g.put(key, workerID, ttl)
	return true
}

func (g *MemoryGateway) ReleaseUserLock(ctx context.Context, userID int64, workerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	key := userLockKey(userID)
	holder, held := g.get(key)
	if !held || holder != workerID {
		log.Printf("cache: worker %s released user %d lock it no longer holds", workerID, userID)
		return false
	}
	delete(g.entries, key)
	return true
}

// UserLockHolder reports the current holder, for tests.
func (g *MemoryGateway) UserLockHolder(userID int64) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.get(userLockKey(userID))
}

func (g *MemoryGateway) MarkOrderProcessing(ctx context.Context, orderID int64, workerID string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	key := orderProcessingKey(orderID)
	if _, marked := g.get(key); marked {
		return false
	}
	g.put(key, workerID, ttl)
	return true
}

func (g *MemoryGateway) ClearOrderProcessing(ctx context.Context, orderID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return
	}
	delete(g.entries, orderProcessingKey(orderID))
}

func (g *MemoryGateway) IsOrderProcessing(ctx context.Context, orderID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	_, marked := g.get(orderProcessingKey(orderID))
	return marked
}

func (g *MemoryGateway) PushQueue(ctx context.Context, name string, payload []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	g.queues[name] = append(g.queues[name], cp)
	return true
}

func (g *MemoryGateway) PopQueue(ctx context.Context, name string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, false
	}
	q := g.queues[name]
	if len(q) == 0 {
		return nil, false
	}
	payload := q[0]
	g.queues[name] = q[1:]
	return payload, true
}

func (g *MemoryGateway) QueueLen(ctx context.Context, name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queues[name])
}

func (g *MemoryGateway) RecordHeartbeat(ctx context.Context, workerID string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	g.put(heartbeatKey(workerID), strconv.FormatInt(time.Now().Unix(), 10), ttl)
	return true
}

func (g *MemoryGateway) LiveWorkers(ctx context.Context) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil
	}
	now := time.Now()
	var workers []string
	for key, e := range g.entries {
		if len(key) <= len(heartbeatPrefix) || key[:len(heartbeatPrefix)] != heartbeatPrefix {
			continue
		}
		if e.expired(now) {
			delete(g.entries, key)
			continue
		}
		workers = append(workers, workerFromHeartbeatKey(key))
	}
	return workers
}

func (g *MemoryGateway) UpdateCounters(ctx context.Context, counters map[string]int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	for k, v := range counters {
		g.counters[k] = v
	}
	return true
}

func (g *MemoryGateway) Counters(ctx context.Context) map[string]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int64, len(g.counters))
	for k, v := range g.counters {
		out[k] = v
	}
	return out
}
