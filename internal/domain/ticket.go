package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// Ticket is the aggregate owning a conversation thread.
type Ticket struct {
	ID        string
	OwnerID   string
	Subject   string
	Status    TicketStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// IsClosed reports whether the ticket accepts no further messages.
func (t *Ticket) IsClosed() bool {
	return t.Status == TicketStatusClosed
}
