package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const outboxColumns = `id, correlation_id, message_type, payload, destination, created_at, sent_at`

const createOutboxMessage = `
INSERT INTO outbox_messages (id, correlation_id, message_type, payload, destination, created_at)
VALUES ($1, $2, $3, $4, $5, clock_timestamp())
RETURNING ` + outboxColumns

type CreateOutboxMessageParams struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	MessageType   string    `json:"message_type"`
	Payload       string    `json:"payload"`
	Destination   string    `json:"destination"`
}

func (q *Queries) CreateOutboxMessage(ctx context.Context, arg *CreateOutboxMessageParams) (OutboxMessage, error) {
	row := q.db.QueryRow(ctx, createOutboxMessage,
		arg.ID,
		arg.CorrelationID,
		arg.MessageType,
		arg.Payload,
		arg.Destination,
	)

	return scanOutboxMessage(row)
}

const listPendingOutboxMessages = `
SELECT ` + outboxColumns + `
FROM outbox_messages
WHERE sent_at IS NULL
ORDER BY created_at ASC
LIMIT $1`

func (q *Queries) ListPendingOutboxMessages(ctx context.Context, limit int32) ([]OutboxMessage, error) {
	rows, err := q.db.Query(ctx, listPendingOutboxMessages, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OutboxMessage

	for rows.Next() {
		i, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, i)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

const markOutboxMessageSent = `UPDATE outbox_messages SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`

type MarkOutboxMessageSentParams struct {
	ID     uuid.UUID          `json:"id"`
	SentAt pgtype.Timestamptz `json:"sent_at"`
}

func (q *Queries) MarkOutboxMessageSent(ctx context.Context, arg *MarkOutboxMessageSentParams) (int64, error) {
	result, err := q.db.Exec(ctx, markOutboxMessageSent, arg.ID, arg.SentAt)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

const countPendingOutboxMessages = `SELECT count(*) FROM outbox_messages WHERE sent_at IS NULL`

func (q *Queries) CountPendingOutboxMessages(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countPendingOutboxMessages).Scan(&count)

	return count, err
}

const getOutboxMessageByCorrelation = `
SELECT ` + outboxColumns + `
FROM outbox_messages
WHERE correlation_id = $1 AND message_type = $2
ORDER BY created_at ASC
LIMIT 1`

type GetOutboxMessageByCorrelationParams struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	MessageType   string    `json:"message_type"`
}

func (q *Queries) GetOutboxMessageByCorrelation(
	ctx context.Context, arg *GetOutboxMessageByCorrelationParams,
) (OutboxMessage, error) {
	return scanOutboxMessage(q.db.QueryRow(ctx, getOutboxMessageByCorrelation, arg.CorrelationID, arg.MessageType))
}

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var i OutboxMessage
	err := row.Scan(
		&i.ID,
		&i.CorrelationID,
		&i.MessageType,
		&i.Payload,
		&i.Destination,
		&i.CreatedAt,
		&i.SentAt,
	)

	return i, err
}
