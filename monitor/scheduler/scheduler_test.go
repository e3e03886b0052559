package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/store"
)

func testConfig() Config {
	return Config{
		ActiveRefreshInterval: 0, // refresh on every call
		QueueRefreshInterval:  0,
		UserLockTTL:           time.Minute,
		MaxInFlightPerUser:    3,
		RefreshPerSecond:      1000,
		RefreshBurst:          1000,
	}
}

func seedUser(st *store.MemoryStore, userID, groupID int64, orderIDs ...int64) {
	st.PutUser(&store.User{ID: userID, Username: fmt.Sprintf("user%d", userID), Status: store.UserEnabled})
	st.PutGroup(&store.OrderGroup{ID: groupID, UserID: userID, GroupName: "main", Status: store.GroupOpen})
	for i, id := range orderIDs {
		st.PutOrder(&store.Order{
			ID: id, UserID: userID, GroupID: groupID,
			OrderNo:  fmt.Sprintf("O-%d", id),
			Status:   store.OrderPending,
			Priority: 1, Quantity: 10,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
}

func TestLeaseBatchGrantsExclusiveAccess(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()
	seedUser(st, 1, 10, 101, 102)

	s := New(st, cg, testConfig())

	userID, batch := s.LeaseBatch(ctx, "worker-a", 10)
	if userID != 1 || len(batch) != 2 {
		t.Fatalf("worker-a lease: got user %d with %d orders, want user 1 with 2", userID, len(batch))
	}

	// Worker B sees the user locked and comes back empty.
	if uid, b := s.LeaseBatch(ctx, "worker-b", 10); uid != 0 || b != nil {
		t.Fatalf("worker-b leased user %d while worker-a holds the lock", uid)
	}

	for _, o := range batch {
		if err := st.UpdateOrderStatus(ctx, o.ID, store.OrderFilled, o.Quantity); err != nil {
			t.Fatal(err)
		}
		s.MarkComplete(1, o.ID)
	}
	s.Release(ctx, 1, "worker-a")

	// New pending work appears; B can now lease.
	st.PutOrder(&store.Order{ID: 103, UserID: 1, GroupID: 10, OrderNo: "O-103", Status: store.OrderPending, Priority: 1, Quantity: 10, CreatedAt: time.Now()})
	uid, b := s.LeaseBatch(ctx, "worker-b", 10)
	if uid != 1 || len(b) != 1 || b[0].ID != 103 {
		t.Fatalf("worker-b lease after release: got user %d, batch %v", uid, b)
	}
}

func TestLeaseBatchHonorsBatchSizeAndInFlightCap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()
	seedUser(st, 1, 10, 101, 102, 103, 104, 105)

	s := New(st, cg, testConfig())

	_, batch := s.LeaseBatch(ctx, "worker-a", 2)
	if len(batch) != 2 {
		t.Fatalf("batch size 2, got %d orders", len(batch))
	}
	s.Release(ctx, 1, "worker-a")

	// Cap is 3; 2 are already in flight, so only 1 more comes out.
	_, batch = s.LeaseBatch(ctx, "worker-a", 10)
	if len(batch) != 1 {
		t.Fatalf("expected 1 order at the in-flight cap, got %d", len(batch))
	}
}

func TestExpiredLockAllowsTakeover(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()
	seedUser(st, 1, 10, 101, 102)

	cfg := testConfig()
	cfg.UserLockTTL = 20 * time.Millisecond
	s := New(st, cg, cfg)

	// Worker A leases one order and crashes without releasing.
	uid, batch := s.LeaseBatch(ctx, "worker-a", 1)
	if uid != 1 || len(batch) != 1 {
		t.Fatalf("worker-a lease failed: user %d, %d orders", uid, len(batch))
	}

	time.Sleep(40 * time.Millisecond)

	uid, batch = s.LeaseBatch(ctx, "worker-b", 1)
	if uid != 1 || len(batch) != 1 {
		t.Fatalf("worker-b takeover after lock expiry failed: user %d, %d orders", uid, len(batch))
	}
	if holder := cgHolds(cg, 1); holder != "worker-b" {
		t.Fatalf("lock holder after takeover = %q, want worker-b", holder)
	}
}

func cgHolds(cg *cache.MemoryGateway, userID int64) string {
	holder, _ := cg.UserLockHolder(userID)
	return holder
}

func TestRefreshActiveUsersPrunesDepartedUsers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()
	seedUser(st, 1, 10, 101)
	seedUser(st, 2, 20, 201)

	s := New(st, cg, testConfig())
	if n := s.RefreshActiveUsers(ctx); n != 2 {
		t.Fatalf("active users = %d, want 2", n)
	}

	// User 2's only order fills; next refresh drops the user.
	if err := st.UpdateOrderStatus(ctx, 201, store.OrderFilled, 10); err != nil {
		t.Fatal(err)
	}
	if n := s.RefreshActiveUsers(ctx); n != 1 {
		t.Fatalf("active users after fill = %d, want 1", n)
	}
}

func TestRefreshActiveUsersCachesWithinInterval(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()
	seedUser(st, 1, 10, 101)

	cfg := testConfig()
	cfg.ActiveRefreshInterval = time.Hour
	s := New(st, cg, cfg)

	if n := s.RefreshActiveUsers(ctx); n != 1 {
		t.Fatalf("active users = %d, want 1", n)
	}
	seedUser(st, 2, 20, 201)
	// Inside the interval the set is served from memory.
	if n := s.RefreshActiveUsers(ctx); n != 1 {
		t.Fatalf("active users inside interval = %d, want cached 1", n)
	}
}

func TestCandidatesOrderByScoreAndRotateTies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()

	// User 1 carries more orders than users 2 and 3, which tie.
	seedUser(st, 1, 10, 101, 102, 103)
	seedUser(st, 2, 20, 201)
	seedUser(st, 3, 30, 301)

	s := New(st, cg, testConfig())
	s.RefreshActiveUsers(ctx)

	first := s.candidates()
	if len(first) != 3 || first[0] != 1 {
		t.Fatalf("candidates = %v, want user 1 first", first)
	}

	// The tied tail must rotate between calls.
	second := s.candidates()
	if second[0] != 1 {
		t.Fatalf("second candidates = %v, want user 1 first", second)
	}
	if first[1] == second[1] {
		t.Fatalf("tied users did not rotate: %v then %v", first, second)
	}
}

func TestSystemStatusAggregatesQueues(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()
	seedUser(st, 1, 10, 101, 102, 103)

	s := New(st, cg, testConfig())
	_, batch := s.LeaseBatch(ctx, "worker-a", 2)
	if len(batch) != 2 {
		t.Fatalf("lease returned %d orders", len(batch))
	}

	sys := s.SystemStatus()
	if sys.ActiveUsers != 1 {
		t.Errorf("active users = %d, want 1", sys.ActiveUsers)
	}
	if sys.TotalInFlight != 2 {
		t.Errorf("in-flight = %d, want 2", sys.TotalInFlight)
	}
	if sys.TotalPending != 1 {
		t.Errorf("pending = %d, want 1", sys.TotalPending)
	}
}
