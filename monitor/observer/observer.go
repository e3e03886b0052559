// Package observer watches the authoritative user and group status rows,
// diffs consecutive snapshots, and turns the differences into events.
package observer

import (
	"context"
	"log"
	"time"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/event"
	"github.com/quantfold/ordermon/monitor/observability"
	"github.com/quantfold/ordermon/monitor/store"
)

// Snapshot captures one query round of user and group status rows.
type Snapshot struct {
	Users  map[int64]*store.User
	Groups map[int64]*store.OrderGroup
	Taken  time.Time
}

// Observer periodically snapshots the store and publishes status-change
// events. Rows that disappear between snapshots are not reported.
type Observer struct {
	store     store.Store
	cache     cache.Gateway
	bus       *event.Bus
	interval  time.Duration
	statusTTL time.Duration
	last      *Snapshot
}

func New(s store.Store, c cache.Gateway, b *event.Bus, interval, statusTTL time.Duration) *Observer {
	return &Observer{
		store:     s,
		cache:     c,
		bus:       b,
		interval:  interval,
		statusTTL: statusTTL,
	}
}

// Run ticks until the context is cancelled.
func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	log.Printf("observer: started, interval %v", o.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("observer: stopped")
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Observer) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		observability.ObserverDiffDuration.Observe(time.Since(start).Seconds())
	}()

	snap, err := o.takeSnapshot(ctx)
	if err != nil {
		log.Printf("observer: snapshot: %v", err)
		return
	}

	events := o.diff(snap)
	o.last = snap

	for _, ev := range events {
		o.emit(ctx, ev)
	}
}

func (o *Observer) takeSnapshot(ctx context.Context) (*Snapshot, error) {
	users, err := o.store.SnapshotUsers(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := o.store.SnapshotGroups(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Users:  make(map[int64]*store.User, len(users)),
		Groups: make(map[int64]*store.OrderGroup, len(groups)),
		Taken:  time.Now(),
	}
	for _, u := range users {
		snap.Users[u.ID] = u
	}
	for _, g := range groups {
		snap.Groups[g.ID] = g
	}
	return snap, nil
}

// diff compares snap against the previous snapshot. The very first snapshot
// produces no events; it only primes the baseline.
func (o *Observer) diff(snap *Snapshot) []event.Event {
	if o.last == nil {
		return nil
	}

	var events []event.Event

	for userID, u := range snap.Users {
		prev, known := o.last.Users[userID]
		switch {
		case !known:
			events = append(events, event.UserAdded{
				Header:   event.NewHeader(),
				UserID:   userID,
				Username: u.Username,
				Status:   u.Status,
			})
		case prev.Status != u.Status:
			events = append(events, event.UserStatusChanged{
				Header:    event.NewHeader(),
				UserID:    userID,
				Username:  u.Username,
				OldStatus: prev.Status,
				NewStatus: u.Status,
			})
		}
	}

	for groupID, g := range snap.Groups {
		prev, known := o.last.Groups[groupID]
		switch {
		case !known:
			events = append(events, event.GroupAdded{
				Header:    event.NewHeader(),
				GroupID:   groupID,
				UserID:    g.UserID,
				GroupName: g.GroupName,
				Status:    g.Status,
			})
		case prev.Status != g.Status:
			events = append(events, event.GroupStatusChanged{
				Header:    event.NewHeader(),
				GroupID:   groupID,
				UserID:    g.UserID,
				GroupName: g.GroupName,
				OldStatus: prev.Status,
				NewStatus: g.Status,
			})
		}
	}

	return events
}

// emit publishes the event on the bus. Status changes are also mirrored to
// the shared events queue for external consumers; added rows just warm the
// status hints.
func (o *Observer) emit(ctx context.Context, ev event.Event) {
	observability.StatusChanges.WithLabelValues(string(ev.EventKind())).Inc()

	switch e := ev.(type) {
	case event.UserStatusChanged:
		log.Printf("observer: user %d (%s) status %d -> %d", e.UserID, e.Username, e.OldStatus, e.NewStatus)
		o.mirror(ctx, ev)
	case event.GroupStatusChanged:
		log.Printf("observer: group %d (%s) status %d -> %d", e.GroupID, e.GroupName, e.OldStatus, e.NewStatus)
		o.mirror(ctx, ev)
	case event.UserAdded:
		log.Printf("observer: new user %d (%s), status %d", e.UserID, e.Username, e.Status)
		o.cache.SetUserStatus(ctx, e.UserID, e.Status, o.statusTTL)
	case event.GroupAdded:
		log.Printf("observer: new group %d (%s), status %d", e.GroupID, e.GroupName, e.Status)
		o.cache.SetGroupStatus(ctx, e.GroupID, e.Status, o.statusTTL)
	}

	if !o.bus.Publish(ev) {
		log.Printf("observer: bus rejected %s %s", ev.EventKind(), ev.EventID())
	}
}

func (o *Observer) mirror(ctx context.Context, ev event.Event) {
	payload, err := event.Encode(ev)
	if err != nil {
		log.Printf("observer: encode %s: %v", ev.EventKind(), err)
		return
	}
	o.cache.PushQueue(ctx, cache.QueueEvents, payload)
}
