package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/domain"
	"github.com/spec-kit/ticket-channel/internal/events"
)

func runHub(t *testing.T, queue int) *Hub {
	t.Helper()
	h := New(nil, nil, queue)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func requireFrame(t *testing.T, s *Session) dto.Frame {
	t.Helper()
	select {
	case data, ok := <-s.Outbound():
		if !ok {
			t.Fatal("session closed while waiting for frame")
		}
		var frame dto.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatal(err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return dto.Frame{}
}

func requireNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data := <-s.Outbound():
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func appended(ticketID, ownerID, msgID string) events.Event {
	return events.Event{
		Type:     events.EventMessageAppended,
		TicketID: ticketID,
		OwnerID:  ownerID,
		Payload: events.MessageAppendedPayload{
			Message: domain.Message{ID: msgID, TicketID: ticketID, SenderRole: domain.SenderRoleUser, Body: "hi"},
			Status:  domain.TicketStatusOpen,
		},
	}
}

func TestPublishReachesOwnerSessionsAndWatchers(t *testing.T) {
	h := runHub(t, 16)
	owner := domain.Principal{UserID: "u1", Role: domain.RoleUser}
	phone := NewSession(owner, 8)
	laptop := NewSession(owner, 8)
	other := NewSession(domain.Principal{UserID: "u2", Role: domain.RoleUser}, 8)
	watcher := NewSession(domain.Principal{UserID: "a1", Role: domain.RoleAdmin}, 8)
	idle := NewSession(domain.Principal{UserID: "a2", Role: domain.RoleAdmin}, 8)
	for _, s := range []*Session{phone, laptop, other, watcher, idle} {
		h.Subscribe(s)
	}
	h.Subscribe(phone)
	h.Watch(watcher, "T1")
	h.Watch(phone, "T1")

	if !h.Publish(appended("T1", "u1", "M1")) {
		t.Fatal("publish should be accepted")
	}

	for _, s := range []*Session{phone, laptop, watcher} {
		frame := requireFrame(t, s)
		if frame.Type != dto.FrameNewMessage || frame.Message.ID != "M1" || frame.Status != domain.TicketStatusOpen {
			t.Fatalf("unexpected frame %+v", frame)
		}
	}
	// owner + watcher on the same session still yields one copy
	requireNoFrame(t, phone)
	requireNoFrame(t, other)
	requireNoFrame(t, idle)
}

func TestUnwatchAndUnsubscribe(t *testing.T) {
	h := runHub(t, 16)
	admin := NewSession(domain.Principal{UserID: "a1", Role: domain.RoleAdmin}, 8)
	h.Subscribe(admin)
	h.Watch(admin, "T1")
	h.Unwatch(admin, "T1")

	h.Publish(appended("T1", "u1", "M1"))
	requireNoFrame(t, admin)

	h.Unsubscribe(admin)
	h.Unsubscribe(admin)
	if h.SessionCount() != 0 {
		t.Fatalf("expected no sessions, got %d", h.SessionCount())
	}
	if _, ok := <-admin.Outbound(); ok {
		t.Fatal("outbound queue should be closed")
	}
	if admin.SafeSend([]byte("x")) {
		t.Fatal("send on a closed session must fail")
	}

	h.Subscribe(admin)
	if h.SessionCount() != 0 {
		t.Fatal("closed sessions cannot subscribe again")
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := runHub(t, 16)
	owner := domain.Principal{UserID: "u1", Role: domain.RoleUser}
	slow := NewSession(owner, 1)
	fast := NewSession(owner, 8)
	h.Subscribe(slow)
	h.Subscribe(fast)

	for i, id := range []string{"M1", "M2", "M3"} {
		h.Publish(appended("T1", "u1", id))
		if got := requireFrame(t, fast); got.Message.ID != id {
			t.Fatalf("frame %d: got %s want %s", i, got.Message.ID, id)
		}
	}
	if got := requireFrame(t, slow); got.Message.ID != "M1" {
		t.Fatalf("slow session should keep its first frame, got %s", got.Message.ID)
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	h := New(nil, nil, 1)
	if !h.Publish(appended("T1", "u1", "M1")) {
		t.Fatal("first publish should fit")
	}
	if h.Publish(appended("T1", "u1", "M2")) {
		t.Fatal("second publish should be dropped without a running loop")
	}
}

func TestRunClosesSessionsOnShutdown(t *testing.T) {
	h := New(nil, nil, 4)
	s := NewSession(domain.Principal{UserID: "u1"}, 4)
	h.Subscribe(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if !s.Closed() || h.SessionCount() != 0 {
		t.Fatal("shutdown should close every session")
	}
}

func TestStatusChangedFrame(t *testing.T) {
	h := runHub(t, 4)
	s := NewSession(domain.Principal{UserID: "u1"}, 4)
	h.Subscribe(s)
	h.Publish(events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: "T1",
		OwnerID:  "u1",
		Payload:  events.TicketStatusChangedPayload{OldStatus: domain.TicketStatusOpen, NewStatus: domain.TicketStatusClosed},
	})
	frame := requireFrame(t, s)
	if frame.Type != dto.FrameStatusChanged || frame.Status != domain.TicketStatusClosed {
		t.Fatalf("unexpected frame %+v", frame)
	}
}
