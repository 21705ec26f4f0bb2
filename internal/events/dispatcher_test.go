package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	boom := errors.New("boom")

	d.Subscribe(EventMessageAppended, func(_ context.Context, e Event) error {
		calls = append(calls, "first:"+e.TicketID)
		return boom
	})
	d.Subscribe(EventMessageAppended, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventTicketResolved, func(context.Context, Event) error {
		t.Fatal("handler for another type must not run")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventMessageAppended, TicketID: "T1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "first:T1" || calls[1] != "second:T1" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	d := NewInMemoryDispatcher()
	ran := false
	d.Subscribe(EventTicketStatusChanged, func(context.Context, Event) error {
		panic("handler bug")
	})
	d.Subscribe(EventTicketStatusChanged, func(context.Context, Event) error {
		ran = true
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketStatusChanged, TicketID: "T1"})
	if err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
	if !ran {
		t.Fatal("a panicking handler must not stop later handlers")
	}
}

func TestDispatcherWithoutHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	if err := d.Publish(context.Background(), Event{Type: EventTicketOpened}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
