package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-channel/internal/domain"
)

const messageColumns = `id, ticket_id, sender_id, sender_role, body, resolve_id, created_at`

func (r *postgresConversationRepository) AppendMessage(ctx context.Context, msg *domain.Message, change *domain.StatusChange) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status domain.TicketStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id=$1 FOR UPDATE`, msg.TicketID).Scan(&status); err != nil {
			return err
		}
		if change != nil && status != change.FromStatus {
			return ErrStatusConflict
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if change != nil {
			if err := applyStatusChange(ctx, tx, change); err != nil {
				return err
			}
			if err := insertStatusChange(ctx, tx, change); err != nil {
				return err
			}
		}
		// updated_at tracks the newest message so it can serve as the
		// status as-of time.
		_, err := tx.Exec(ctx, `UPDATE tickets SET updated_at=$2 WHERE id=$1`, msg.TicketID, msg.CreatedAt)
		return err
	})
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *domain.Message) error {
	const query = `
        INSERT INTO ticket_messages (` + messageColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := tx.Exec(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.SenderID,
		msg.SenderRole,
		msg.Body,
		msg.ResolveID,
		msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *postgresConversationRepository) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func (r *postgresConversationRepository) LastMessage(ctx context.Context, ticketID string) (*domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.optionalMessage(ctx, query, ticketID)
}

func (r *postgresConversationRepository) FindByResolveID(ctx context.Context, ticketID, resolveID string) (*domain.Message, error) {
	const query = `
        SELECT ` + messageColumns + `
        FROM ticket_messages WHERE ticket_id=$1 AND resolve_id=$2`
	return r.optionalMessage(ctx, query, ticketID, resolveID)
}

func (r *postgresConversationRepository) optionalMessage(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	if err := row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.SenderID,
		&msg.SenderRole,
		&msg.Body,
		&msg.ResolveID,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}
