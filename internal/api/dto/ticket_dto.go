package dto

import (
	"time"

	"github.com/spec-kit/ticket-channel/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TicketResponse describes a ticket without its thread.
type TicketResponse struct {
	ID        string              `json:"id"`
	OwnerID   string              `json:"owner_id"`
	Subject   string              `json:"subject"`
	Status    domain.TicketStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	ClosedAt  *time.Time          `json:"closed_at,omitempty"`
}

// OpenTicketResponse is returned by ticket creation.
type OpenTicketResponse struct {
	Ticket  TicketResponse  `json:"ticket"`
	Message MessageResponse `json:"message"`
}

// MessageResponse represents one thread message, over HTTP and the channel.
type MessageResponse struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	SenderID   *string           `json:"sender_id"`
	SenderRole domain.SenderRole `json:"sender_role"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolveID  *string           `json:"resolve_id,omitempty"`
}

// MessageListResponse wraps a thread listing.
type MessageListResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body string `json:"body"`
}

// AppendMessageResponse is returned by message creation.
type AppendMessageResponse struct {
	Message MessageResponse     `json:"message"`
	Status  domain.TicketStatus `json:"status"`
}

// ResolveTicketRequest payload. ResolveID makes retries idempotent.
type ResolveTicketRequest struct {
	ResolveID string `json:"resolve_id"`
}

// ResolveTicketResponse is returned by the resolve action.
type ResolveTicketResponse struct {
	Message   MessageResponse `json:"message"`
	Ticket    TicketResponse  `json:"ticket"`
	Duplicate bool            `json:"duplicate"`
}

// StatusChangeResponse is one audit entry.
type StatusChangeResponse struct {
	ID               int64               `json:"id"`
	FromStatus       domain.TicketStatus `json:"from_status"`
	ToStatus         domain.TicketStatus `json:"to_status"`
	TriggerMessageID *string             `json:"trigger_message_id,omitempty"`
	ChangedByID      *string             `json:"changed_by_id,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// StatusHistoryResponse wraps the audit trail.
type StatusHistoryResponse struct {
	History []StatusChangeResponse `json:"history"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:        t.ID,
		OwnerID:   t.OwnerID,
		Subject:   t.Subject,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		ClosedAt:  t.ClosedAt,
	}
}

// NewMessageResponse maps a domain message.
func NewMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		TicketID:   m.TicketID,
		SenderID:   m.SenderID,
		SenderRole: m.SenderRole,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
		ResolveID:  m.ResolveID,
	}
}

// NewMessageListResponse maps a thread.
func NewMessageListResponse(msgs []domain.Message) MessageListResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageResponse(&msgs[i]))
	}
	return MessageListResponse{Messages: out}
}

// NewStatusHistoryResponse maps the audit trail.
func NewStatusHistoryResponse(changes []domain.StatusChange) StatusHistoryResponse {
	out := make([]StatusChangeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, StatusChangeResponse{
			ID:               c.ID,
			FromStatus:       c.FromStatus,
			ToStatus:         c.ToStatus,
			TriggerMessageID: c.TriggerMessageID,
			ChangedByID:      c.ChangedByID,
			CreatedAt:        c.CreatedAt,
		})
	}
	return StatusHistoryResponse{History: out}
}

// ToDomain converts a received message into a confirmed domain message.
func (m MessageResponse) ToDomain() domain.Message {
	return domain.Message{
		ID:            m.ID,
		TicketID:      m.TicketID,
		SenderID:      m.SenderID,
		SenderRole:    m.SenderRole,
		Body:          m.Body,
		CreatedAt:     m.CreatedAt,
		ResolveID:     m.ResolveID,
		DeliveryState: domain.DeliveryAcked,
	}
}
