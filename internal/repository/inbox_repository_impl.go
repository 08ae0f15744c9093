package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/order-payment-saga/internal/db"
	"github.com/jnst/order-payment-saga/internal/model"
)

// InboxRepositoryImpl implements InboxRepository using PostgreSQL.
type InboxRepositoryImpl struct {
	db *db.Queries
}

// NewInboxRepositoryImpl creates a new InboxRepository implementation.
func NewInboxRepositoryImpl(pool *pgxpool.Pool) InboxRepository {
	return &InboxRepositoryImpl{db: db.New(pool)}
}

// GetForUpdate retrieves and locks the inbox row of a message.
func (r *InboxRepositoryImpl) GetForUpdate(ctx context.Context, messageID uuid.UUID) (*model.InboxMessage, error) {
	dbMessage, err := queries(ctx, r.db).GetInboxMessageForUpdate(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrInboxMessageNotFound, messageID)
		}

		return nil, err
	}

	return toInboxMessage(dbMessage), nil
}

// Create records the receipt of a message.
func (r *InboxRepositoryImpl) Create(
	ctx context.Context, messageID uuid.UUID, messageType model.MessageType,
) (*model.InboxMessage, error) {
	dbMessage, err := queries(ctx, r.db).CreateInboxMessage(ctx, &db.CreateInboxMessageParams{
		MessageID:   messageID,
		MessageType: messageType.String(),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: inbox message %s", model.ErrConcurrencyConflict, messageID)
		}

		return nil, err
	}

	return toInboxMessage(dbMessage), nil
}

// MarkProcessed stamps the message as processed.
func (r *InboxRepositoryImpl) MarkProcessed(ctx context.Context, messageID uuid.UUID, processedAt time.Time) error {
	_, err := queries(ctx, r.db).MarkInboxMessageProcessed(ctx, &db.MarkInboxMessageProcessedParams{
		MessageID:   messageID,
		ProcessedAt: timestamptz(processedAt),
	})

	return err
}

// RecordError stores the failure text of a message that could not be processed.
func (r *InboxRepositoryImpl) RecordError(
	ctx context.Context, messageID uuid.UUID, messageType model.MessageType, cause string,
) error {
	return queries(ctx, r.db).RecordInboxMessageError(ctx, &db.RecordInboxMessageErrorParams{
		MessageID:       messageID,
		MessageType:     messageType.String(),
		ProcessingError: model.TruncateProcessingError(cause),
	})
}
