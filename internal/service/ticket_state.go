package service

import (
	"github.com/spec-kit/ticket-channel/internal/domain"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusInProgress: {domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusResolved:   {domain.TicketStatusInProgress, domain.TicketStatusClosed},
	domain.TicketStatusClosed:     {},
}

// CanTransition reports whether from -> to is an edge of the ticket lifecycle.
func CanTransition(from, to domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// NextStatus computes the status a ticket moves to when msg is appended.
// changed is false when the append leaves the status untouched.
func NextStatus(current domain.TicketStatus, msg *domain.Message) (domain.TicketStatus, bool, error) {
	if current == domain.TicketStatusClosed {
		return current, false, apperrors.NewTicketClosed(msg.TicketID)
	}

	next := current
	switch msg.SenderRole {
	case domain.SenderRoleAdmin:
		if current == domain.TicketStatusOpen {
			next = domain.TicketStatusInProgress
		}
	case domain.SenderRoleUser:
		if current == domain.TicketStatusResolved {
			next = domain.TicketStatusInProgress
		}
	case domain.SenderRoleSystem:
		if msg.IsResolveMarker() {
			if current == domain.TicketStatusResolved {
				return current, false, apperrors.NewConflict("ticket already resolved", map[string]any{"ticket_id": msg.TicketID})
			}
			next = domain.TicketStatusResolved
		}
	default:
		return current, false, apperrors.NewValidationError("unknown sender role", map[string]any{"sender_role": msg.SenderRole})
	}

	if next == current {
		return current, false, nil
	}
	if !CanTransition(current, next) {
		return current, false, apperrors.NewConflict("invalid status transition", map[string]any{"from": current, "to": next})
	}
	return next, true, nil
}

// CloseStatus validates the close action against the current status.
func CloseStatus(current domain.TicketStatus, ticketID string) (domain.TicketStatus, error) {
	if current == domain.TicketStatusClosed {
		return current, apperrors.NewTicketClosed(ticketID)
	}
	return domain.TicketStatusClosed, nil
}
