package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	m := NewConnectionManager(ConnectionConfig{}, ConnectionHandlers{})
	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 30 * time.Second, 30 * time.Second}
	for n, expected := range want {
		if got := m.backoff(n); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", n, expected, got)
		}
	}
}

func TestConnectRejectedCredentialDoesNotRetry(t *testing.T) {
	hub := newFakeHub(t)
	fatal := make(chan error, 1)
	m := NewConnectionManager(ConnectionConfig{
		URL:         hub.wsURL(),
		Credentials: StaticToken("expired"),
		BaseDelay:   5 * time.Millisecond,
	}, ConnectionHandlers{OnFatal: func(err error) { fatal <- err }})
	defer m.Close()

	if err := m.Connect(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	select {
	case err := <-fatal:
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("unexpected fatal error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fatal handler not called")
	}
	time.Sleep(50 * time.Millisecond)
	if n := hub.dials.Load(); n != 1 {
		t.Fatalf("expected a single dial, got %d", n)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("unexpected state %v", m.State())
	}
}

func TestConnectWithoutCredentialFailsFast(t *testing.T) {
	hub := newFakeHub(t)
	m := NewConnectionManager(ConnectionConfig{URL: hub.wsURL()}, ConnectionHandlers{})
	defer m.Close()

	if err := m.Connect(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if n := hub.dials.Load(); n != 0 {
		t.Fatalf("expected no dial, got %d", n)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	hub := newFakeHub(t)
	hub.reject(http.StatusServiceUnavailable)
	fatal := make(chan error, 1)
	m := NewConnectionManager(ConnectionConfig{
		URL:         hub.wsURL(),
		Credentials: StaticToken(fakeToken),
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		MaxRetries:  2,
	}, ConnectionHandlers{OnFatal: func(err error) { fatal <- err }})
	defer m.Close()

	if err := m.Connect(context.Background()); !IsNetworkError(err) {
		t.Fatalf("expected a network error, got %v", err)
	}
	select {
	case err := <-fatal:
		if !errors.Is(err, ErrRetryBudgetExhausted) {
			t.Fatalf("unexpected fatal error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("retry budget never exhausted")
	}
	if n := hub.dials.Load(); n != 3 {
		t.Fatalf("expected initial dial plus 2 retries, got %d", n)
	}
	if !errors.Is(m.Err(), ErrRetryBudgetExhausted) {
		t.Fatalf("unexpected Err() %v", m.Err())
	}
}

func TestReconnectsAfterServerDrop(t *testing.T) {
	hub := newFakeHub(t)
	var connected, disconnected atomic.Int32
	m := NewConnectionManager(ConnectionConfig{
		URL:         hub.wsURL(),
		Credentials: StaticToken(fakeToken),
		BaseDelay:   10 * time.Millisecond,
	}, ConnectionHandlers{
		OnConnected:    func() { connected.Add(1) },
		OnDisconnected: func(error) { disconnected.Add(1) },
	})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "server to register the socket", func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 1
	})
	hub.dropAll()

	eventually(t, "reconnect", func() bool { return connected.Load() == 2 })
	if disconnected.Load() != 1 {
		t.Fatalf("expected one disconnect, got %d", disconnected.Load())
	}
	if m.State() != StateConnected {
		t.Fatalf("unexpected state %v", m.State())
	}
}

func TestConnectTimeoutSchedulesRetry(t *testing.T) {
	// accepts TCP but never answers the websocket handshake
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				_ = c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()

	m := NewConnectionManager(ConnectionConfig{
		URL:            "ws://" + ln.Addr().String() + "/ws",
		Credentials:    StaticToken(fakeToken),
		ConnectTimeout: 100 * time.Millisecond,
		BaseDelay:      time.Hour,
	}, ConnectionHandlers{})
	defer m.Close()

	start := time.Now()
	err = m.Connect(context.Background())
	if !IsNetworkError(err) {
		t.Fatalf("expected a network error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connect timeout not applied, took %v", elapsed)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("unexpected state %v", m.State())
	}
	m.mu.Lock()
	scheduled := m.timer != nil
	m.mu.Unlock()
	if !scheduled {
		t.Fatal("timeout should fall back to a scheduled reconnect")
	}
}

func TestConnectWhileRetryPendingKeepsOneTimer(t *testing.T) {
	hub := newFakeHub(t)
	hub.reject(http.StatusServiceUnavailable)
	m := NewConnectionManager(ConnectionConfig{
		URL:         hub.wsURL(),
		Credentials: StaticToken(fakeToken),
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}, ConnectionHandlers{})
	defer m.Close()

	// first timer due at 200ms, replaced by one due at 400ms
	_ = m.Connect(context.Background())
	_ = m.Connect(context.Background())
	if n := hub.dials.Load(); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}

	time.Sleep(300 * time.Millisecond)
	if n := hub.dials.Load(); n != 2 {
		t.Fatalf("replaced timer still fired: %d dials", n)
	}
	eventually(t, "rescheduled dial", func() bool { return hub.dials.Load() == 3 })

	time.Sleep(100 * time.Millisecond)
	if n := hub.dials.Load(); n != 3 {
		t.Fatalf("expected exactly one timer-driven dial, got %d", n)
	}
}

func TestCloseCancelsScheduledReconnect(t *testing.T) {
	hub := newFakeHub(t)
	hub.reject(http.StatusServiceUnavailable)
	m := NewConnectionManager(ConnectionConfig{
		URL:         hub.wsURL(),
		Credentials: StaticToken(fakeToken),
		BaseDelay:   30 * time.Millisecond,
	}, ConnectionHandlers{})

	_ = m.Connect(context.Background())
	m.Close()
	time.Sleep(120 * time.Millisecond)

	if n := hub.dials.Load(); n != 1 {
		t.Fatalf("reconnect fired after close: %d dials", n)
	}
	if m.State() != StateClosed {
		t.Fatalf("unexpected state %v", m.State())
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseDoesNotTriggerReconnect(t *testing.T) {
	hub := newFakeHub(t)
	var disconnected atomic.Int32
	m := NewConnectionManager(ConnectionConfig{
		URL:         hub.wsURL(),
		Credentials: StaticToken(fakeToken),
		BaseDelay:   5 * time.Millisecond,
	}, ConnectionHandlers{OnDisconnected: func(error) { disconnected.Add(1) }})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Close()
	time.Sleep(60 * time.Millisecond)

	if n := hub.dials.Load(); n != 1 {
		t.Fatalf("unexpected reconnect after close: %d dials", n)
	}
	if disconnected.Load() != 0 {
		t.Fatal("explicit close reported as a disconnect")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	hub := newFakeHub(t)
	m := NewConnectionManager(ConnectionConfig{URL: hub.wsURL(), Credentials: StaticToken(fakeToken)}, ConnectionHandlers{})
	defer m.Close()

	if err := m.Send(dto.Frame{Type: dto.FrameWatch, TicketID: "T1"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Send(dto.Frame{Type: dto.FrameWatch, TicketID: "T1"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "watch frame", func() bool { return len(hub.framesOfType(dto.FrameWatch)) == 1 })
}
