package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/quantfold/ordermon/monitor/cache"
	"github.com/quantfold/ordermon/monitor/store"
	"github.com/quantfold/ordermon/monitor/userlog"
)

// RegisterBuiltins wires the standard handler set onto the bus.
func RegisterBuiltins(b *Bus, s store.Store, c cache.Gateway, ul userlog.Sink, statusTTL time.Duration) {
	b.Register(KindOrderStatusChanged, &OrderStatusHandler{Cache: c, UserLog: ul, StatusTTL: statusTTL})
	b.Register(KindUserStatusChanged, &UserStatusHandler{Store: s, Cache: c, UserLog: ul, StatusTTL: statusTTL})
	b.Register(KindGroupStatusChanged, &GroupStatusHandler{Store: s, Cache: c, UserLog: ul, StatusTTL: statusTTL})
}

// OrderStatusHandler records the transition in the user's log, refreshes the
// per-order status hint, and pushes a delivery payload to the notifications
// queue.
type OrderStatusHandler struct {
	Cache     cache.Gateway
	UserLog   userlog.Sink
	StatusTTL time.Duration
}

func (h *OrderStatusHandler) Handle(ctx context.Context, ev Event) error {
	e, ok := ev.(OrderStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", ev)
	}

	msg := fmt.Sprintf("order[%d] status change: %s -> %s, filled: %g",
		e.OrderID, e.OldStatus, e.NewStatus, e.FilledQuantity)
	if e.Symbol != "" {
		msg += ", symbol: " + e.Symbol
	}
	h.UserLog.Printf(e.UserID, "%s", msg)

	hint, err := json.Marshal(map[string]any{
		"status":          e.NewStatus,
		"filled_quantity": e.FilledQuantity,
		"updated_at":      e.Timestamp.Format(time.RFC3339),
	})
	if err == nil {
		h.Cache.Set(ctx, cache.OrderStatusKey(e.OrderID), hint, h.StatusTTL)
	}

	payload, err := Encode(e)
	if err != nil {
		return err
	}
	h.Cache.PushQueue(ctx, cache.QueueNotifications, payload)
	return nil
}

// UserStatusHandler propagates the new status into the cache and, on
// disable, closes every group hint for the user so workers drop the user's
// orders without another store round-trip. On enable the group hints are
// reconciled from the store.
type UserStatusHandler struct {
	Store     store.Store
	Cache     cache.Gateway
	UserLog   userlog.Sink
	StatusTTL time.Duration
}

func (h *UserStatusHandler) Handle(ctx context.Context, ev Event) error {
	e, ok := ev.(UserStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", ev)
	}

	h.Cache.SetUserStatus(ctx, e.UserID, e.NewStatus, h.StatusTTL)
	h.UserLog.Printf(e.UserID, "user status change: %d -> %d", e.OldStatus, e.NewStatus)

	groups, err := h.Store.UserGroups(ctx, e.UserID)
	if err != nil {
		return err
	}

	switch e.NewStatus {
	case store.UserDisabled:
		for _, g := range groups {
			h.Cache.SetGroupStatus(ctx, g.ID, store.GroupClosed, h.StatusTTL)
		}
		h.UserLog.Printf(e.UserID, "user monitoring disabled, affected groups: %d", len(groups))
		log.Printf("event: user %d disabled, closed %d group hints", e.UserID, len(groups))
	case store.UserEnabled:
		for _, g := range groups {
			h.Cache.SetGroupStatus(ctx, g.ID, g.Status, h.StatusTTL)
		}
		h.UserLog.Printf(e.UserID, "user monitoring enabled, active groups: %d", len(groups))
	}
	return nil
}

// GroupStatusHandler refreshes the group hint and logs the change along
// with the number of orders it affects.
type GroupStatusHandler struct {
	Store     store.Store
	Cache     cache.Gateway
	UserLog   userlog.Sink
	StatusTTL time.Duration
}

func (h *GroupStatusHandler) Handle(ctx context.Context, ev Event) error {
	e, ok := ev.(GroupStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", ev)
	}

	h.Cache.SetGroupStatus(ctx, e.GroupID, e.NewStatus, h.StatusTTL)

	active, err := h.Store.CountGroupActiveOrders(ctx, e.GroupID)
	if err != nil {
		return err
	}

	switch e.NewStatus {
	case store.GroupClosed:
		h.UserLog.Printf(e.UserID, "group[%s] monitoring closed, affected orders: %d", e.GroupName, active)
	case store.GroupOpen:
		h.UserLog.Printf(e.UserID, "group[%s] monitoring opened, active orders: %d", e.GroupName, active)
	}
	return nil
}
