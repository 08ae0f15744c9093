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

// OutboxRepositoryImpl implements OutboxRepository using PostgreSQL.
type OutboxRepositoryImpl struct {
	db *db.Queries
}

// NewOutboxRepositoryImpl creates a new OutboxRepository implementation.
func NewOutboxRepositoryImpl(pool *pgxpool.Pool) OutboxRepository {
	return &OutboxRepositoryImpl{db: db.New(pool)}
}

// Create stores a new pending outbox message.
func (r *OutboxRepositoryImpl) Create(
	ctx context.Context, params *model.CreateOutboxMessageParams,
) (*model.OutboxMessage, error) {
	dbMessage, err := queries(ctx, r.db).CreateOutboxMessage(ctx, &db.CreateOutboxMessageParams{
		ID:            uuid.New(),
		CorrelationID: params.CorrelationID,
		MessageType:   params.MessageType.String(),
		Payload:       string(params.Payload),
		Destination:   params.Destination,
	})
	if err != nil {
		return nil, err
	}

	return toOutboxMessage(dbMessage), nil
}

// ListPending retrieves unsent outbox messages, oldest first.
func (r *OutboxRepositoryImpl) ListPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	dbMessages, err := queries(ctx, r.db).ListPendingOutboxMessages(ctx, int32(limit))
	if err != nil {
		return nil, err
	}

	messages := make([]*model.OutboxMessage, len(dbMessages))
	for i, dbMessage := range dbMessages {
		messages[i] = toOutboxMessage(dbMessage)
	}

	return messages, nil
}

// MarkSent stamps the message as sent. Marking an already sent message is a no-op.
func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	_, err := queries(ctx, r.db).MarkOutboxMessageSent(ctx, &db.MarkOutboxMessageSentParams{
		ID:     id,
		SentAt: timestamptz(sentAt),
	})

	return err
}

// CountPending returns the number of unsent outbox messages.
func (r *OutboxRepositoryImpl) CountPending(ctx context.Context) (int64, error) {
	return queries(ctx, r.db).CountPendingOutboxMessages(ctx)
}

// FindByCorrelation retrieves the first message of a type written for a correlation id.
func (r *OutboxRepositoryImpl) FindByCorrelation(
	ctx context.Context, correlationID uuid.UUID, messageType model.MessageType,
) (*model.OutboxMessage, error) {
	dbMessage, err := queries(ctx, r.db).GetOutboxMessageByCorrelation(ctx, &db.GetOutboxMessageByCorrelationParams{
		CorrelationID: correlationID,
		MessageType:   messageType.String(),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s for %s", model.ErrOutboxMessageNotFound, messageType, correlationID)
		}

		return nil, err
	}

	return toOutboxMessage(dbMessage), nil
}
