// Package service provides business logic layer implementations.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnst/order-payment-saga/internal/model"
)

// OrderService defines business logic methods for the order ledger.
type OrderService interface {
	// CreateOrder stores the order and its payment command in one transaction.
	CreateOrder(ctx context.Context, params *model.CreateOrderParams) (*model.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]*model.Order, error)
	// UpdateStatus overwrites the order status. Reapplying the current status is a no-op write.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus, reason *string) (*model.Order, error)
}

// AccountService defines business logic methods for the payment ledger.
type AccountService interface {
	CreateAccount(ctx context.Context, userID string) (*model.Account, error)
	// Deposit credits the account. A lost version race returns model.ErrConcurrencyConflict.
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error)
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)
	// ProcessPayment debits the account at most once per message id and enqueues the outcome event.
	ProcessPayment(ctx context.Context, params *model.ProcessPaymentParams) (*model.PaymentResult, error)
}

// OutboxService defines business logic methods for relaying outbox messages.
type OutboxService interface {
	// ProcessPendingMessages runs one relay cycle over at most limit pending rows.
	ProcessPendingMessages(ctx context.Context, limit int) (*RelayStats, error)
}

// ReconcileService defines business logic methods for orders stuck in PROCESSING.
type ReconcileService interface {
	// RedriveStaleOrders re-publishes the payment command of orders not updated for staleAfter.
	RedriveStaleOrders(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}
