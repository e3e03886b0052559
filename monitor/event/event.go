// Package event defines the closed set of domain events, their wire codec,
// and the bounded in-process bus that delivers them to registered handlers.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/ordermon/monitor/store"
)

// Kind discriminates event variants on the wire and in the handler registry.
type Kind string

const (
	KindOrderStatusChanged Kind = "order_status_change"
	KindUserStatusChanged  Kind = "user_status_change"
	KindGroupStatusChanged Kind = "group_status_change"
	KindUserAdded          Kind = "user_added"
	KindGroupAdded         Kind = "group_added"
)

// ErrMalformedEvent reports a payload that does not decode to any variant.
var ErrMalformedEvent = errors.New("event: malformed payload")

// Event is one of the five concrete variants below; the set is closed.
type Event interface {
	EventKind() Kind
	EventID() string
	EventTime() time.Time
}

// Header carries the fields common to every variant.
type Header struct {
	ID        string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHeader stamps a fresh id and the current time.
func NewHeader() Header {
	return Header{ID: uuid.NewString(), Timestamp: time.Now()}
}

func (h Header) EventID() string      { return h.ID }
func (h Header) EventTime() time.Time { return h.Timestamp }

type OrderStatusChanged struct {
	Header
	OrderID        int64             `json:"order_id"`
	UserID         int64             `json:"user_id"`
	GroupID        int64             `json:"group_id"`
	OldStatus      store.OrderStatus `json:"old_status"`
	NewStatus      store.OrderStatus `json:"new_status"`
	FilledQuantity float64           `json:"filled_quantity"`
	Symbol         string            `json:"symbol"`
}

func (OrderStatusChanged) EventKind() Kind { return KindOrderStatusChanged }

type UserStatusChanged struct {
	Header
	UserID    int64           `json:"user_id"`
	Username  string          `json:"username"`
	OldStatus store.UserState `json:"old_status"`
	NewStatus store.UserState `json:"new_status"`
}

func (UserStatusChanged) EventKind() Kind { return KindUserStatusChanged }

type GroupStatusChanged struct {
	Header
	GroupID   int64            `json:"group_id"`
	UserID    int64            `json:"user_id"`
	GroupName string           `json:"group_name"`
	OldStatus store.GroupState `json:"old_status"`
	NewStatus store.GroupState `json:"new_status"`
}

func (GroupStatusChanged) EventKind() Kind { return KindGroupStatusChanged }

type UserAdded struct {
	Header
	UserID   int64           `json:"user_id"`
	Username string          `json:"username"`
	Status   store.UserState `json:"status"`
}

func (UserAdded) EventKind() Kind { return KindUserAdded }

type GroupAdded struct {
	Header
	GroupID   int64            `json:"group_id"`
	UserID    int64            `json:"user_id"`
	GroupName string           `json:"group_name"`
	Status    store.GroupState `json:"status"`
}

func (GroupAdded) EventKind() Kind { return KindGroupAdded }

// envelope is the self-describing wire form: a type tag plus the variant body.
type envelope struct {
	Type  Kind            `json:"type"`
	Event json.RawMessage `json:"event"`
}

// Encode serializes an event for the cache queues.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ev.EventKind(), Event: body})
}

// Decode parses a queue payload into its concrete variant. Unknown tags and
// unparseable bodies yield ErrMalformedEvent.
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Event
	var err error
	switch env.Type {
	case KindOrderStatusChanged:
		var e OrderStatusChanged
		err = json.Unmarshal(env.Event, &e)
		ev = e
	case KindUserStatusChanged:
		var e UserStatusChanged
		err = json.Unmarshal(env.Event, &e)
		ev = e
	case KindGroupStatusChanged:
		var e GroupStatusChanged
		err = json.Unmarshal(env.Event, &e)
		ev = e
	case KindUserAdded:
		var e UserAdded
		err = json.Unmarshal(env.Event, &e)
		ev = e
	case KindGroupAdded:
		var e GroupAdded
		err = json.Unmarshal(env.Event, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}
