package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-channel/internal/domain"
)

// Session is one live connection registered with the hub. Frames queued
// with SafeSend are drained by the connection's write goroutine.
type Session struct {
	id        string
	principal domain.Principal
	send      chan []byte

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewSession creates a session with a buffered outbound queue.
func NewSession(principal domain.Principal, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		id:        uuid.NewString(),
		principal: principal,
		send:      make(chan []byte, buffer),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Principal returns the authenticated caller of the session.
func (s *Session) Principal() domain.Principal { return s.principal }

// Outbound returns the frames to write. It is closed when the session is
// unsubscribed.
func (s *Session) Outbound() <-chan []byte { return s.send }

// SafeSend queues data without blocking. It reports false when the session
// is closed or its buffer is full.
func (s *Session) SafeSend(data []byte) (sent bool) {
	// Close may run between the flag check and the send.
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close closes the outbound queue exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.send)
	})
}

// Closed reports whether Close ran.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
