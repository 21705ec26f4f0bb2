package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-channel/internal/domain"
)

func insertStatusChange(ctx context.Context, tx pgx.Tx, change *domain.StatusChange) error {
	const query = `
        INSERT INTO ticket_status_history (ticket_id, from_status, to_status, trigger_message_id, changed_by_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return tx.QueryRow(ctx, query,
		change.TicketID,
		change.FromStatus,
		change.ToStatus,
		change.TriggerMessageID,
		change.ChangedByID,
	).Scan(&change.ID, &change.CreatedAt)
}

func (r *postgresConversationRepository) ListHistory(ctx context.Context, ticketID string) ([]domain.StatusChange, error) {
	const query = `
        SELECT id, ticket_id, from_status, to_status, trigger_message_id, changed_by_id, created_at
        FROM ticket_status_history WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.StatusChange{}
	for rows.Next() {
		var change domain.StatusChange
		if err := rows.Scan(
			&change.ID,
			&change.TicketID,
			&change.FromStatus,
			&change.ToStatus,
			&change.TriggerMessageID,
			&change.ChangedByID,
			&change.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, change)
	}
	return result, rows.Err()
}
