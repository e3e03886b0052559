package store

import (
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

// Terminal reports whether the status is a sink: once reached the order
// never changes again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
// Pending and Partial may move to any of {Partial, Filled, Cancelled, Failed}.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case OrderPartial, OrderFilled, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// UserState is the enable/disable flag on a user row.
type UserState int

const (
	UserDisabled UserState = 0
	UserEnabled  UserState = 1
)

// GroupState is the open/closed flag on an order group row.
type GroupState int

const (
	GroupClosed GroupState = 0
	GroupOpen   GroupState = 1
)

// Order mirrors a row of the orders table.
type Order struct {
	ID             int64
	UserID         int64
	GroupID        int64
	OrderNo        string
	Symbol         string
	OrderType      string
	Price          float64
	Quantity       float64
	FilledQuantity float64
	Status         OrderStatus
	Priority       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FilledAt       *time.Time
}

// User mirrors a row of the users table.
type User struct {
	ID        int64
	Username  string
	Status    UserState
	UpdatedAt time.Time
}

// OrderGroup mirrors a row of the order_groups table.
type OrderGroup struct {
	ID        int64
	UserID    int64
	GroupName string
	Status    GroupState
	UpdatedAt time.Time
}

// StatusLog is one entry of the order_status_logs audit table.
type StatusLog struct {
	OrderID   int64
	OldStatus OrderStatus
	NewStatus OrderStatus
	OldFilled float64
	NewFilled float64
	Reason    string
}

// ActiveUser is one row of the active-user grouping query: a user with at
// least one processable order, with the aggregates the scheduler scores by.
type ActiveUser struct {
	UserID      int64
	OrderCount  int
	AvgPriority float64
}
