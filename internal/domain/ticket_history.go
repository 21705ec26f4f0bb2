package domain

import "time"

// StatusChange is an immutable audit entry written with every transition.
type StatusChange struct {
	ID               int64
	TicketID         string
	FromStatus       TicketStatus
	ToStatus         TicketStatus
	TriggerMessageID *string
	ChangedByID      *string
	CreatedAt        time.Time
}
