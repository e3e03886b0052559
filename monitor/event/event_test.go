package event

import (
	"errors"
	"testing"

	"github.com/quantfold/ordermon/monitor/store"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := OrderStatusChanged{
		Header:         NewHeader(),
		OrderID:        101,
		UserID:         1,
		GroupID:        10,
		OldStatus:      store.OrderPending,
		NewStatus:      store.OrderPartial,
		FilledQuantity: 2.5,
		Symbol:         "AAPL",
	}

	payload, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out.(OrderStatusChanged)
	if !ok {
		t.Fatalf("decoded %T, want OrderStatusChanged", out)
	}
	if got.OrderID != in.OrderID || got.NewStatus != in.NewStatus || got.FilledQuantity != in.FilledQuantity {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.EventID() != in.EventID() {
		t.Fatalf("event id %q != %q", got.EventID(), in.EventID())
	}
}

func TestDecodeEveryKind(t *testing.T) {
	events := []Event{
		OrderStatusChanged{Header: NewHeader(), OrderID: 1},
		UserStatusChanged{Header: NewHeader(), UserID: 1, OldStatus: store.UserEnabled, NewStatus: store.UserDisabled},
		GroupStatusChanged{Header: NewHeader(), GroupID: 1, OldStatus: store.GroupOpen, NewStatus: store.GroupClosed},
		UserAdded{Header: NewHeader(), UserID: 2, Username: "bob"},
		GroupAdded{Header: NewHeader(), GroupID: 2, GroupName: "hedges"},
	}
	for _, in := range events {
		payload, err := Encode(in)
		if err != nil {
			t.Fatalf("encode %s: %v", in.EventKind(), err)
		}
		out, err := Decode(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", in.EventKind(), err)
		}
		if out.EventKind() != in.EventKind() {
			t.Fatalf("kind %s decoded as %s", in.EventKind(), out.EventKind())
		}
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", "{{{"},
		{"unknown type", `{"type":"order_vanished","event":{}}`},
		{"bad body", `{"type":"order_status_change","event":"nope"}`},
	}
	for _, tc := range cases {
		if _, err := Decode([]byte(tc.payload)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("%s: err = %v, want ErrMalformedEvent", tc.name, err)
		}
	}
}
