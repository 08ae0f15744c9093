// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnst/order-payment-saga/internal/model"
)

// OrderRepository defines methods for order data access.
type OrderRepository interface {
	Create(ctx context.Context, params *model.CreateOrderParams) (*model.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Order, error)
	// UpdateStatus overwrites status and reason unconditionally.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus, reason *string) (*model.Order, error)
	// ListStale returns orders that stayed in status since before the given time, skipping
	// those marked reconciled since then or already redriven maxRedrives times. Orders never
	// marked come first, then the least recently marked.
	ListStale(
		ctx context.Context, status model.OrderStatus, before time.Time, maxRedrives, limit int,
	) ([]*model.Order, error)
	// MarkReconciled records a reconciler visit without touching status or updated_at
	// and returns how often the order has been redriven.
	MarkReconciled(ctx context.Context, id uuid.UUID, at time.Time, redriven bool) (int, error)
}

// AccountRepository defines methods for account data access.
type AccountRepository interface {
	Create(ctx context.Context, userID string) (*model.Account, error)
	GetByUserID(ctx context.Context, userID string) (*model.Account, error)
	// UpdateBalance writes newBalance only if the stored version still equals account.Version.
	// It returns model.ErrConcurrencyConflict otherwise.
	UpdateBalance(ctx context.Context, account *model.Account, newBalance decimal.Decimal) (*model.Account, error)
}

// OutboxRepository defines methods for outbox message data access.
type OutboxRepository interface {
	Create(ctx context.Context, params *model.CreateOutboxMessageParams) (*model.OutboxMessage, error)
	// ListPending returns unsent messages ordered by creation time.
	ListPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
	FindByCorrelation(
		ctx context.Context, correlationID uuid.UUID, messageType model.MessageType,
	) (*model.OutboxMessage, error)
}

// InboxRepository defines methods for inbox message data access.
type InboxRepository interface {
	// GetForUpdate locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, messageID uuid.UUID) (*model.InboxMessage, error)
	// Create returns model.ErrConcurrencyConflict when another delivery inserted the row first.
	Create(ctx context.Context, messageID uuid.UUID, messageType model.MessageType) (*model.InboxMessage, error)
	MarkProcessed(ctx context.Context, messageID uuid.UUID, processedAt time.Time) error
	// RecordError upserts the failure text without marking the message processed.
	RecordError(ctx context.Context, messageID uuid.UUID, messageType model.MessageType, cause string) error
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	// WithTransaction runs fn in a transaction carried by the context passed to fn.
	// A call made while a transaction is already active joins it.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
