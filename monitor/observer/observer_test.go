package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/event"
	"github.com/quantfold/ordermon/monitor/store"
)

type capture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *capture) Handle(_ context.Context, ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capture) byKind(k event.Kind) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Event
	for _, ev := range c.events {
		if ev.EventKind() == k {
			out = append(out, ev)
		}
	}
	return out
}

func newFixture() (*store.MemoryStore, *cache.MemoryGateway, *event.Bus, *capture, *Observer) {
	st := store.NewMemoryStore()
	cg := cache.NewMemoryGateway()
	bus := event.NewBus(64, 2, time.Second)
	rec := &capture{}
	for _, k := range []event.Kind{
		event.KindUserStatusChanged, event.KindGroupStatusChanged,
		event.KindUserAdded, event.KindGroupAdded,
	} {
		bus.Register(k, rec)
	}
	bus.Start()
	obs := New(st, cg, bus, time.Hour, time.Hour)
	return st, cg, bus, rec, obs
}

func TestFirstSnapshotPrimesWithoutEvents(t *testing.T) {
	ctx := context.Background()
	st, cg, bus, rec, obs := newFixture()
	st.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserEnabled})
	st.PutGroup(&store.OrderGroup{ID: 10, UserID: 1, GroupName: "main", Status: store.GroupOpen})

	obs.tick(ctx)
	bus.Close()

	if n := len(rec.events); n != 0 {
		t.Fatalf("first snapshot produced %d events, want 0", n)
	}
	if n := cg.QueueLen(ctx, cache.QueueEvents); n != 0 {
		t.Fatalf("first snapshot mirrored %d payloads, want 0", n)
	}
}

func TestStatusChangesAreEmittedAndMirrored(t *testing.T) {
	ctx := context.Background()
	st, cg, bus, rec, obs := newFixture()
	st.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserEnabled})
	st.PutGroup(&store.OrderGroup{ID: 10, UserID: 1, GroupName: "main", Status: store.GroupOpen})

	obs.tick(ctx)

	st.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserDisabled})
	st.PutGroup(&store.OrderGroup{ID: 10, UserID: 1, GroupName: "main", Status: store.GroupClosed})
	obs.tick(ctx)
	bus.Close()

	users := rec.byKind(event.KindUserStatusChanged)
	if len(users) != 1 {
		t.Fatalf("user change events = %d, want 1", len(users))
	}
	uc := users[0].(event.UserStatusChanged)
	if uc.OldStatus != store.UserEnabled || uc.NewStatus != store.UserDisabled {
		t.Fatalf("user change %+v", uc)
	}

	groups := rec.byKind(event.KindGroupStatusChanged)
	if len(groups) != 1 {
		t.Fatalf("group change events = %d, want 1", len(groups))
	}

	// Both changes are mirrored to the shared events queue as decodable
	// payloads.
	if n := cg.QueueLen(ctx, cache.QueueEvents); n != 2 {
		t.Fatalf("mirrored payloads = %d, want 2", n)
	}
	payload, _ := cg.PopQueue(ctx, cache.QueueEvents)
	if _, err := event.Decode(payload); err != nil {
		t.Fatalf("mirrored payload does not decode: %v", err)
	}
}

func TestAdditionsWarmHintsAndPublish(t *testing.T) {
	ctx := context.Background()
	st, cg, bus, rec, obs := newFixture()
	st.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserEnabled})

	obs.tick(ctx)

	st.PutUser(&store.User{ID: 2, Username: "bob", Status: store.UserEnabled})
	st.PutGroup(&store.OrderGroup{ID: 20, UserID: 2, GroupName: "swing", Status: store.GroupOpen})
	obs.tick(ctx)
	bus.Close()

	if n := len(rec.byKind(event.KindUserAdded)); n != 1 {
		t.Fatalf("user added events = %d, want 1", n)
	}
	if n := len(rec.byKind(event.KindGroupAdded)); n != 1 {
		t.Fatalf("group added events = %d, want 1", n)
	}

	if s, ok := cg.UserStatus(ctx, 2); !ok || s != store.UserEnabled {
		t.Fatalf("user hint = %v ok=%v, want warmed Enabled", s, ok)
	}
	if s, ok := cg.GroupStatus(ctx, 20); !ok || s != store.GroupOpen {
		t.Fatalf("group hint = %v ok=%v, want warmed Open", s, ok)
	}

	// Additions are not mirrored to the events queue.
	if n := cg.QueueLen(ctx, cache.QueueEvents); n != 0 {
		t.Fatalf("mirrored payloads = %d, want 0", n)
	}
}

func TestDeletionsProduceNoEvents(t *testing.T) {
	ctx := context.Background()
	st, _, bus, rec, obs := newFixture()
	st.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserEnabled})
	st.PutUser(&store.User{ID: 2, Username: "bob", Status: store.UserEnabled})

	obs.tick(ctx)

	// Rebuild the store without bob; the observer stays silent about him.
	st2 := store.NewMemoryStore()
	st2.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserEnabled})
	obs.store = st2
	obs.tick(ctx)
	bus.Close()

	if n := len(rec.events); n != 0 {
		t.Fatalf("deletion produced %d events, want 0", n)
	}
}

func TestSnapshotErrorKeepsBaseline(t *testing.T) {
	ctx := context.Background()
	st, _, bus, rec, obs := newFixture()
	st.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserEnabled})

	obs.tick(ctx)

	st.FailWith(errors.New("connection reset"))
	st.PutUser(&store.User{ID: 1, Username: "alice", Status: store.UserDisabled})
	obs.tick(ctx) // snapshot fails, baseline unchanged

	st.FailWith(nil)
	obs.tick(ctx)
	bus.Close()

	// The change is still detected once the store recovers.
	if n := len(rec.byKind(event.KindUserStatusChanged)); n != 1 {
		t.Fatalf("user change events = %d, want 1", n)
	}
}
