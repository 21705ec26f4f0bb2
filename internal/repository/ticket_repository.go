package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-channel/internal/domain"
)

// ErrStatusConflict is returned when a status transition was computed
// against a status that is no longer current.
var ErrStatusConflict = errors.New("ticket status changed concurrently")

// ConversationRepository persists tickets, their threads and status audit.
// AppendMessage must apply the message insert and the optional status change
// atomically.
type ConversationRepository interface {
	CreateTicket(ctx context.Context, ticket *domain.Ticket, first *domain.Message) error
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error)
	LastMessage(ctx context.Context, ticketID string) (*domain.Message, error)
	FindByResolveID(ctx context.Context, ticketID, resolveID string) (*domain.Message, error)
	AppendMessage(ctx context.Context, msg *domain.Message, change *domain.StatusChange) error
	UpdateStatus(ctx context.Context, change *domain.StatusChange) error
	ListHistory(ctx context.Context, ticketID string) ([]domain.StatusChange, error)
}

type postgresConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository returns a Postgres-backed implementation.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &postgresConversationRepository{pool: pool}
}

func (r *postgresConversationRepository) CreateTicket(ctx context.Context, ticket *domain.Ticket, first *domain.Message) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO tickets (owner_user_id, subject, status)
        VALUES ($1,$2,$3)
        RETURNING id, created_at, updated_at`
		if err := tx.QueryRow(ctx, query,
			ticket.OwnerID,
			ticket.Subject,
			ticket.Status,
		).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if first == nil {
			return nil
		}
		first.TicketID = ticket.ID
		return insertMessage(ctx, tx, first)
	})
}

func (r *postgresConversationRepository) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, owner_user_id, subject, status, created_at, updated_at, closed_at
        FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.OwnerID,
		&ticket.Subject,
		&ticket.Status,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *postgresConversationRepository) UpdateStatus(ctx context.Context, change *domain.StatusChange) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := applyStatusChange(ctx, tx, change); err != nil {
			return err
		}
		return insertStatusChange(ctx, tx, change)
	})
}

// applyStatusChange flips the ticket status if it still equals change.FromStatus.
func applyStatusChange(ctx context.Context, tx pgx.Tx, change *domain.StatusChange) error {
	const query = `
        UPDATE tickets SET status=$1, updated_at=NOW(),
            closed_at = CASE WHEN $1 = 'CLOSED' THEN NOW() ELSE closed_at END
        WHERE id=$2 AND status=$3`
	cmd, err := tx.Exec(ctx, query, change.ToStatus, change.TicketID, change.FromStatus)
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}
