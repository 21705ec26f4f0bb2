package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/domain"
)

const fakeToken = "good-token"

// fakeHub is a minimal channel server: it authenticates the handshake,
// acks watch and send frames and serves the REST thread listing.
type fakeHub struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	dials  atomic.Int32
	status atomic.Int32

	mu       sync.Mutex
	conns    []*websocket.Conn
	messages map[string][]domain.Message
	received []dto.Frame
	seq      int
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	f := &fakeHub{messages: make(map[string][]domain.Message)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.serveWS)
	mux.HandleFunc("/tickets/", f.serveREST)
	f.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.dropAll()
		f.server.Close()
	})
	return f
}

func (f *fakeHub) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

// reject makes every following handshake fail with status; 0 accepts again.
func (f *fakeHub) reject(status int) {
	f.status.Store(int32(status))
}

func (f *fakeHub) serveWS(w http.ResponseWriter, r *http.Request) {
	f.dials.Add(1)
	if status := int(f.status.Load()); status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+fakeToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	go f.readLoop(conn)
}

func (f *fakeHub) readLoop(conn *websocket.Conn) {
	var writeMu sync.Mutex
	write := func(frame dto.Frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(frame)
	}
	for {
		var frame dto.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, frame)
		f.mu.Unlock()

		switch frame.Type {
		case dto.FrameWatch:
			write(dto.Frame{Type: dto.FrameAck, RequestID: frame.RequestID, TicketID: frame.TicketID, Status: domain.TicketStatusOpen})
		case dto.FrameSend:
			msg := f.add(frame.TicketID, frame.Body)
			resp := dto.NewMessageResponse(&msg)
			write(dto.Frame{Type: dto.FrameNewMessage, TicketID: frame.TicketID, Message: &resp, Status: domain.TicketStatusOpen})
			write(dto.Frame{Type: dto.FrameAck, RequestID: frame.RequestID, TicketID: frame.TicketID, Message: &resp, Status: domain.TicketStatusOpen})
		}
	}
}

// add appends a message to the server-side thread.
func (f *fakeHub) add(ticketID, body string) domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	msg := domain.Message{
		ID:         fmt.Sprintf("01SRV%04d", f.seq),
		TicketID:   ticketID,
		SenderRole: domain.SenderRoleUser,
		Body:       body,
		CreatedAt:  time.Date(2025, 3, 1, 12, 0, f.seq, 0, time.UTC),
	}
	f.messages[ticketID] = append(f.messages[ticketID], msg)
	return msg
}

func (f *fakeHub) serveREST(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+fakeToken {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": dto.ErrorBody{Code: "UNAUTHORIZED", Message: "unauthorized"}})
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/tickets/")
	ticketID, tail, _ := strings.Cut(rest, "/")

	f.mu.Lock()
	msgs := append([]domain.Message(nil), f.messages[ticketID]...)
	f.mu.Unlock()

	var data any
	switch tail {
	case "":
		data = dto.TicketResponse{ID: ticketID, OwnerID: "u1", Subject: "help", Status: domain.TicketStatusOpen}
	case "messages":
		data = dto.NewMessageListResponse(msgs)
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": dto.ErrorBody{Code: "NOT_FOUND", Message: "route not found"}})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// dropAll closes every live socket from the server side.
func (f *fakeHub) dropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (f *fakeHub) framesOfType(typ dto.FrameType) []dto.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dto.Frame
	for _, fr := range f.received {
		if fr.Type == typ {
			out = append(out, fr)
		}
	}
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
