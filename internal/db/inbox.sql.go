package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const inboxColumns = `message_id, message_type, received_at, processed_at, processing_error`

// The row lock serializes concurrent deliveries of the same message id.
const getInboxMessageForUpdate = `SELECT ` + inboxColumns + ` FROM inbox_messages WHERE message_id = $1 FOR UPDATE`

func (q *Queries) GetInboxMessageForUpdate(ctx context.Context, messageID uuid.UUID) (InboxMessage, error) {
	return scanInboxMessage(q.db.QueryRow(ctx, getInboxMessageForUpdate, messageID))
}

const createInboxMessage = `
INSERT INTO inbox_messages (message_id, message_type, received_at)
VALUES ($1, $2, now())
RETURNING ` + inboxColumns

type CreateInboxMessageParams struct {
	MessageID   uuid.UUID `json:"message_id"`
	MessageType string    `json:"message_type"`
}

func (q *Queries) CreateInboxMessage(ctx context.Context, arg *CreateInboxMessageParams) (InboxMessage, error) {
	return scanInboxMessage(q.db.QueryRow(ctx, createInboxMessage, arg.MessageID, arg.MessageType))
}

const markInboxMessageProcessed = `
UPDATE inbox_messages
SET processed_at = $2, processing_error = NULL
WHERE message_id = $1 AND processed_at IS NULL`

type MarkInboxMessageProcessedParams struct {
	MessageID   uuid.UUID          `json:"message_id"`
	ProcessedAt pgtype.Timestamptz `json:"processed_at"`
}

func (q *Queries) MarkInboxMessageProcessed(ctx context.Context, arg *MarkInboxMessageProcessedParams) (int64, error) {
	result, err := q.db.Exec(ctx, markInboxMessageProcessed, arg.MessageID, arg.ProcessedAt)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// processed_at is left untouched so redelivery re-attempts the command.
const recordInboxMessageError = `
INSERT INTO inbox_messages (message_id, message_type, received_at, processing_error)
VALUES ($1, $2, now(), $3)
ON CONFLICT (message_id) DO UPDATE
SET processing_error = EXCLUDED.processing_error
WHERE inbox_messages.processed_at IS NULL`

type RecordInboxMessageErrorParams struct {
	MessageID       uuid.UUID `json:"message_id"`
	MessageType     string    `json:"message_type"`
	ProcessingError string    `json:"processing_error"`
}

func (q *Queries) RecordInboxMessageError(ctx context.Context, arg *RecordInboxMessageErrorParams) error {
	_, err := q.db.Exec(ctx, recordInboxMessageError, arg.MessageID, arg.MessageType, arg.ProcessingError)

	return err
}

func scanInboxMessage(row rowScanner) (InboxMessage, error) {
	var i InboxMessage
	err := row.Scan(
		&i.MessageID,
		&i.MessageType,
		&i.ReceivedAt,
		&i.ProcessedAt,
		&i.ProcessingError,
	)

	return i, err
}
