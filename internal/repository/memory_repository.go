package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-channel/internal/domain"
	"github.com/spec-kit/ticket-channel/internal/messagelog"
)

type memoryTicket struct {
	ticket  domain.Ticket
	log     *messagelog.Log
	history []domain.StatusChange
}

type memoryConversationRepository struct {
	mu      sync.RWMutex
	tickets map[string]*memoryTicket
	now     func() time.Time
	histSeq int64
}

// NewMemoryConversationRepository returns a process-local implementation
// used when no Postgres DSN is configured and in tests. Missing rows are
// reported with pgx.ErrNoRows, like the Postgres implementation.
func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{
		tickets: make(map[string]*memoryTicket),
		now:     time.Now,
	}
}

func (r *memoryConversationRepository) CreateTicket(_ context.Context, ticket *domain.Ticket, first *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := r.now().UTC()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now

	rec := &memoryTicket{ticket: *ticket, log: messagelog.New()}
	if first != nil {
		first.TicketID = ticket.ID
		if err := rec.log.Append(*first); err != nil {
			return err
		}
	}
	r.tickets[ticket.ID] = rec
	return nil
}

func (r *memoryConversationRepository) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	ticket := rec.ticket
	return &ticket, nil
}

func (r *memoryConversationRepository) ListMessages(_ context.Context, ticketID string) ([]domain.Message, error) {
	r.mu.RLock()
	rec, ok := r.tickets[ticketID]
	r.mu.RUnlock()
	if !ok {
		return []domain.Message{}, nil
	}
	return rec.log.List(), nil
}

func (r *memoryConversationRepository) LastMessage(_ context.Context, ticketID string) (*domain.Message, error) {
	r.mu.RLock()
	rec, ok := r.tickets[ticketID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	tail, ok := rec.log.Tail()
	if !ok {
		return nil, nil
	}
	return &tail, nil
}

func (r *memoryConversationRepository) FindByResolveID(_ context.Context, ticketID, resolveID string) (*domain.Message, error) {
	r.mu.RLock()
	rec, ok := r.tickets[ticketID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	msg, found := rec.log.Find(func(m *domain.Message) bool {
		return m.ResolveID != nil && *m.ResolveID == resolveID
	})
	if !found {
		return nil, nil
	}
	return &msg, nil
}

func (r *memoryConversationRepository) AppendMessage(_ context.Context, msg *domain.Message, change *domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tickets[msg.TicketID]
	if !ok {
		return pgx.ErrNoRows
	}
	if change != nil && rec.ticket.Status != change.FromStatus {
		return ErrStatusConflict
	}
	if err := rec.log.Append(*msg); err != nil {
		return err
	}
	if change != nil {
		r.applyLocked(rec, change)
	}
	rec.ticket.UpdatedAt = msg.CreatedAt
	return nil
}

func (r *memoryConversationRepository) UpdateStatus(_ context.Context, change *domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tickets[change.TicketID]
	if !ok {
		return pgx.ErrNoRows
	}
	if rec.ticket.Status != change.FromStatus {
		return ErrStatusConflict
	}
	r.applyLocked(rec, change)
	return nil
}

func (r *memoryConversationRepository) applyLocked(rec *memoryTicket, change *domain.StatusChange) {
	now := r.now().UTC()
	rec.ticket.Status = change.ToStatus
	rec.ticket.UpdatedAt = now
	if change.ToStatus == domain.TicketStatusClosed {
		rec.ticket.ClosedAt = &now
	}
	r.histSeq++
	change.ID = r.histSeq
	change.CreatedAt = now
	rec.history = append(rec.history, *change)
}

func (r *memoryConversationRepository) ListHistory(_ context.Context, ticketID string) ([]domain.StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tickets[ticketID]
	if !ok {
		return []domain.StatusChange{}, nil
	}
	out := make([]domain.StatusChange, len(rec.history))
	copy(out, rec.history)
	return out, nil
}
