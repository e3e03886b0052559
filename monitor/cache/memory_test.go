package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantfold/ordermon/monitor/store"
)

func TestUserLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	if !g.AcquireUserLock(ctx, 1, "worker-a", time.Minute) {
		t.Fatal("first acquire should succeed")
	}
	if g.AcquireUserLock(ctx, 1, "worker-b", time.Minute) {
		t.Fatal("second acquire should fail while the lock is held")
	}
	if g.AcquireUserLock(ctx, 1, "worker-a", time.Minute) {
		t.Fatal("re-acquire by the holder is not reentrant")
	}

	// A different user's lock is independent.
	if !g.AcquireUserLock(ctx, 2, "worker-b", time.Minute) {
		t.Fatal("lock on another user should succeed")
	}
}

func TestReleaseUserLockRequiresHolder(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.AcquireUserLock(ctx, 1, "worker-a", time.Minute)

	if g.ReleaseUserLock(ctx, 1, "worker-b") {
		t.Fatal("release by a non-holder must be a no-op")
	}
	if holder, held := g.UserLockHolder(1); !held || holder != "worker-a" {
		t.Fatalf("lock holder = %q held=%v, want worker-a", holder, held)
	}

	if !g.ReleaseUserLock(ctx, 1, "worker-a") {
		t.Fatal("release by the holder should succeed")
	}
	if g.ReleaseUserLock(ctx, 1, "worker-a") {
		t.Fatal("second release must report no-op")
	}
}

func TestUserLockExpires(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.AcquireUserLock(ctx, 1, "worker-a", 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)

	if !g.AcquireUserLock(ctx, 1, "worker-b", time.Minute) {
		t.Fatal("acquire after TTL expiry should succeed")
	}
	// The stale holder's release must not free worker-b's lock.
	if g.ReleaseUserLock(ctx, 1, "worker-a") {
		t.Fatal("expired holder released a lock it lost")
	}
	if holder, _ := g.UserLockHolder(1); holder != "worker-b" {
		t.Fatalf("lock holder = %q, want worker-b", holder)
	}
}

func TestOrderProcessingMarkIsUnique(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	if !g.MarkOrderProcessing(ctx, 101, "worker-a", time.Minute) {
		t.Fatal("first mark should succeed")
	}
	if g.MarkOrderProcessing(ctx, 101, "worker-b", time.Minute) {
		t.Fatal("second mark should fail")
	}
	if !g.IsOrderProcessing(ctx, 101) {
		t.Fatal("mark should be visible")
	}

	g.ClearOrderProcessing(ctx, 101)
	if g.IsOrderProcessing(ctx, 101) {
		t.Fatal("mark should be gone after clear")
	}
	if !g.MarkOrderProcessing(ctx, 101, "worker-b", time.Minute) {
		t.Fatal("mark should succeed after clear")
	}
}

func TestQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	g.PushQueue(ctx, QueueNotifications, []byte("one"))
	g.PushQueue(ctx, QueueNotifications, []byte("two"))
	if n := g.QueueLen(ctx, QueueNotifications); n != 2 {
		t.Fatalf("queue length = %d, want 2", n)
	}

	first, ok := g.PopQueue(ctx, QueueNotifications)
	if !ok || string(first) != "one" {
		t.Fatalf("first pop = %q ok=%v", first, ok)
	}
	second, ok := g.PopQueue(ctx, QueueNotifications)
	if !ok || string(second) != "two" {
		t.Fatalf("second pop = %q ok=%v", second, ok)
	}
	if _, ok := g.PopQueue(ctx, QueueNotifications); ok {
		t.Fatal("pop from empty queue should report empty")
	}
}

func TestStatusHintsExpire(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	g.SetUserStatus(ctx, 1, store.UserEnabled, 10*time.Millisecond)
	if s, ok := g.UserStatus(ctx, 1); !ok || s != store.UserEnabled {
		t.Fatalf("user status = %v ok=%v", s, ok)
	}

	time.Sleep(25 * time.Millisecond)
	if _, ok := g.UserStatus(ctx, 1); ok {
		t.Fatal("expired hint should be a miss")
	}
}

func TestLiveWorkersDropsExpiredHeartbeats(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	g.RecordHeartbeat(ctx, "worker-1", time.Minute)
	g.RecordHeartbeat(ctx, "worker-2", 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)

	live := g.LiveWorkers(ctx)
	if len(live) != 1 || live[0] != "worker-1" {
		t.Fatalf("live workers = %v, want [worker-1]", live)
	}
}

func TestGatewayDegradesOnFailure(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.FailWith(errors.New("connection refused"))

	if _, ok := g.UserStatus(ctx, 1); ok {
		t.Fatal("failing gateway should report a miss")
	}
	if g.AcquireUserLock(ctx, 1, "worker-a", time.Minute) {
		t.Fatal("failing gateway should deny locks")
	}
	if g.PushQueue(ctx, QueueEvents, []byte("x")) {
		t.Fatal("failing gateway should reject pushes")
	}
	if err := g.Ping(ctx); err == nil {
		t.Fatal("ping should propagate the failure")
	}

	g.FailWith(nil)
	if !g.AcquireUserLock(ctx, 1, "worker-a", time.Minute) {
		t.Fatal("gateway should recover")
	}
}

func TestCountersOverwrite(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	g.UpdateCounters(ctx, map[string]int64{"worker_1_processed": 5})
	g.UpdateCounters(ctx, map[string]int64{"worker_1_processed": 9, "worker_1_errors": 1})

	got := g.Counters(ctx)
	if got["worker_1_processed"] != 9 || got["worker_1_errors"] != 1 {
		t.Fatalf("counters = %v", got)
	}
}
