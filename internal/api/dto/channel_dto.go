package dto

import (
	"time"

	"github.com/spec-kit/ticket-channel/internal/domain"
	"github.com/spec-kit/ticket-channel/internal/events"
)

// FrameType names a live channel frame.
type FrameType string

// Client to server frames.
const (
	FrameSend    FrameType = "send"
	FrameWatch   FrameType = "watch"
	FrameUnwatch FrameType = "unwatch"
	FrameResolve FrameType = "resolve"
)

// Server to client frames.
const (
	FrameHello          FrameType = "hello"
	FrameAck            FrameType = "ack"
	FrameNack           FrameType = "nack"
	FrameNewMessage     FrameType = "new_message"
	FrameTicketResolved FrameType = "ticket_resolved"
	FrameStatusChanged  FrameType = "status_changed"
)

// Frame is the JSON envelope exchanged on the live channel. Only the
// fields relevant to Type are set. StatusAt is the time Status was read
// for frames that carry a status without a message.
type Frame struct {
	Type      FrameType           `json:"type"`
	RequestID string              `json:"request_id,omitempty"`
	TicketID  string              `json:"ticket_id,omitempty"`
	Body      string              `json:"body,omitempty"`
	ResolveID string              `json:"resolve_id,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	UserID    string              `json:"user_id,omitempty"`
	Role      domain.Role         `json:"role,omitempty"`
	Message   *MessageResponse    `json:"message,omitempty"`
	Status    domain.TicketStatus `json:"status,omitempty"`
	StatusAt  *time.Time          `json:"status_at,omitempty"`
	Error     *ErrorBody          `json:"error,omitempty"`
}

// ErrorBody mirrors the HTTP error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FrameFromEvent builds the broadcast frame for a domain event. ok is false
// for events that are not delivered live.
func FrameFromEvent(event events.Event) (Frame, bool) {
	switch payload := event.Payload.(type) {
	case events.MessageAppendedPayload:
		msg := NewMessageResponse(&payload.Message)
		return Frame{Type: FrameNewMessage, TicketID: event.TicketID, Message: &msg, Status: payload.Status}, true
	case events.TicketResolvedPayload:
		msg := NewMessageResponse(&payload.Marker)
		return Frame{Type: FrameTicketResolved, TicketID: event.TicketID, Message: &msg, Status: payload.Status}, true
	case events.TicketStatusChangedPayload:
		at := event.Timestamp
		return Frame{Type: FrameStatusChanged, TicketID: event.TicketID, Status: payload.NewStatus, StatusAt: &at}, true
	}
	return Frame{}, false
}
