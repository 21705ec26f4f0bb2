package events

import (
	"time"

	"github.com/spec-kit/ticket-channel/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketOpened        EventType = "ticket_opened"
	EventMessageAppended     EventType = "message_appended"
	EventTicketResolved      EventType = "ticket_resolved"
	EventTicketStatusChanged EventType = "ticket_status_changed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Role   domain.SenderRole `json:"role"`
	UserID *string           `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by services. OwnerID is the
// ticket owner and scopes fan-out.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	OwnerID   string      `json:"owner_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	Subject string         `json:"subject"`
	First   domain.Message `json:"first"`
}

// MessageAppendedPayload carries the accepted message together with the
// ticket status after the append.
type MessageAppendedPayload struct {
	Message       domain.Message      `json:"message"`
	Status        domain.TicketStatus `json:"status"`
	StatusChanged bool                `json:"status_changed"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	Marker domain.Message      `json:"marker"`
	Status domain.TicketStatus `json:"status"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}
