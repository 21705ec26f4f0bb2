// Package hub fans ticket events out to live channel sessions.
package hub

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
	"github.com/spec-kit/ticket-channel/internal/events"
	"github.com/spec-kit/ticket-channel/internal/observability"
)

const defaultQueueSize = 1024

type sessionSet map[*Session]struct{}

// Hub tracks which sessions receive which tickets' events. An event is
// delivered to every session of the ticket owner and to every session
// watching the ticket.
type Hub struct {
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	sessions sessionSet
	byUser   map[string]sessionSet
	watchers map[string]sessionSet
	watching map[*Session]map[string]struct{}

	queue chan events.Event
}

// New creates a hub with a bounded event queue.
func New(logger *zap.Logger, metrics *observability.Metrics, queueSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		logger:   logger.With(zap.String("component", "hub")),
		metrics:  metrics,
		sessions: make(sessionSet),
		byUser:   make(map[string]sessionSet),
		watchers: make(map[string]sessionSet),
		watching: make(map[*Session]map[string]struct{}),
		queue:    make(chan events.Event, queueSize),
	}
}

// Subscribe registers s for its user's tickets. Repeated calls are no-ops.
func (h *Hub) Subscribe(s *Session) {
	userID := s.Principal().UserID

	h.mu.Lock()
	if _, ok := h.sessions[s]; ok || s.Closed() {
		h.mu.Unlock()
		return
	}
	h.sessions[s] = struct{}{}
	if h.byUser[userID] == nil {
		h.byUser[userID] = sessionSet{}
	}
	h.byUser[userID][s] = struct{}{}
	h.mu.Unlock()

	h.metrics.SessionOpened()
	h.logger.Debug("session subscribed", zap.String("session_id", s.ID()), zap.String("user_id", userID))
}

// Unsubscribe removes s from every index and closes its outbound queue.
// It is safe to call more than once.
func (h *Hub) Unsubscribe(s *Session) {
	userID := s.Principal().UserID

	h.mu.Lock()
	_, known := h.sessions[s]
	if known {
		delete(h.sessions, s)
		if set := h.byUser[userID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.byUser, userID)
			}
		}
		for ticketID := range h.watching[s] {
			h.removeWatcherLocked(ticketID, s)
		}
		delete(h.watching, s)
	}
	h.mu.Unlock()

	s.Close()
	if known {
		h.metrics.SessionClosed()
		h.logger.Debug("session unsubscribed", zap.String("session_id", s.ID()))
	}
}

// Watch adds ticketID to the tickets s receives. Callers check access first.
func (h *Hub) Watch(s *Session, ticketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	if h.watchers[ticketID] == nil {
		h.watchers[ticketID] = sessionSet{}
	}
	h.watchers[ticketID][s] = struct{}{}
	if h.watching[s] == nil {
		h.watching[s] = make(map[string]struct{})
	}
	h.watching[s][ticketID] = struct{}{}
}

// Unwatch stops delivering ticketID to s unless s owns the ticket.
func (h *Hub) Unwatch(s *Session, ticketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeWatcherLocked(ticketID, s)
	if set := h.watching[s]; set != nil {
		delete(set, ticketID)
	}
}

func (h *Hub) removeWatcherLocked(ticketID string, s *Session) {
	set := h.watchers[ticketID]
	if set == nil {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.watchers, ticketID)
	}
}

// SessionCount returns the number of subscribed sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish enqueues event for delivery and returns immediately. It reports
// false when the queue is full and the event was dropped.
func (h *Hub) Publish(event events.Event) bool {
	select {
	case h.queue <- event:
		h.metrics.RecordEventPublished(string(event.Type))
		return true
	default:
		h.metrics.RecordEventDropped()
		h.logger.Warn("hub queue full, dropping event",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)))
		return false
	}
}

// Run delivers queued events until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	h.broadcastLoop(ctx)
	h.closeAll()
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			return
		case event := <-h.queue:
			h.deliver(event)
		}
	}
}

// deliver fans one event out. A panic is logged and the event skipped so
// the loop keeps running.
func (h *Hub) deliver(event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("broadcast panic recovered",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	frame, ok := dto.FrameFromEvent(event)
	if !ok {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encode frame", zap.Error(err))
		return
	}

	for _, s := range h.targets(event.OwnerID, event.TicketID) {
		if !s.SafeSend(data) {
			h.metrics.RecordFrameDropped()
			h.logger.Debug("subscriber buffer full, frame dropped",
				zap.String("session_id", s.ID()),
				zap.String("ticket_id", event.TicketID))
		}
	}
}

func (h *Hub) targets(ownerID, ticketID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(sessionSet)
	out := make([]*Session, 0, len(h.byUser[ownerID])+len(h.watchers[ticketID]))
	for s := range h.byUser[ownerID] {
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for s := range h.watchers[ticketID] {
		if _, dup := seen[s]; dup {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		h.Unsubscribe(s)
	}
}
