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

// OrderRepositoryImpl implements OrderRepository using PostgreSQL.
type OrderRepositoryImpl struct {
	db *db.Queries
}

// NewOrderRepositoryImpl creates a new OrderRepository implementation.
func NewOrderRepositoryImpl(pool *pgxpool.Pool) OrderRepository {
	return &OrderRepositoryImpl{db: db.New(pool)}
}

// Create inserts a new order in status NEW.
func (r *OrderRepositoryImpl) Create(ctx context.Context, params *model.CreateOrderParams) (*model.Order, error) {
	dbOrder, err := queries(ctx, r.db).CreateOrder(ctx, &db.CreateOrderParams{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount,
		Description: textFromPtr(params.Description),
		Status:      model.OrderStatusNew.String(),
	})
	if err != nil {
		return nil, err
	}

	return toOrder(dbOrder), nil
}

// GetByID retrieves an order by ID.
func (r *OrderRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	dbOrder, err := queries(ctx, r.db).GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
		}

		return nil, err
	}

	return toOrder(dbOrder), nil
}

// ListByUser retrieves all orders of a user, newest first.
func (r *OrderRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]*model.Order, error) {
	dbOrders, err := queries(ctx, r.db).ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return toOrders(dbOrders), nil
}

// UpdateStatus overwrites the status and reason of an order.
func (r *OrderRepositoryImpl) UpdateStatus(
	ctx context.Context, id uuid.UUID, status model.OrderStatus, reason *string,
) (*model.Order, error) {
	dbOrder, err := queries(ctx, r.db).UpdateOrderStatus(ctx, &db.UpdateOrderStatusParams{
		ID:           id,
		Status:       status.String(),
		StatusReason: textFromPtr(reason),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
		}

		return nil, err
	}

	return toOrder(dbOrder), nil
}

// ListStale retrieves orders left in status since before the given time that the
// reconciler has not visited since then and has redriven fewer than maxRedrives times.
func (r *OrderRepositoryImpl) ListStale(
	ctx context.Context, status model.OrderStatus, before time.Time, maxRedrives, limit int,
) ([]*model.Order, error) {
	dbOrders, err := queries(ctx, r.db).ListStaleOrders(ctx, &db.ListStaleOrdersParams{
		Status:        status.String(),
		UpdatedBefore: timestamptz(before),
		MaxRedrives:   int32(maxRedrives),
		Limit:         int32(limit),
	})
	if err != nil {
		return nil, err
	}

	return toOrders(dbOrders), nil
}

// MarkReconciled records a reconciler visit, counting it as a redrive when redriven is set.
func (r *OrderRepositoryImpl) MarkReconciled(
	ctx context.Context, id uuid.UUID, at time.Time, redriven bool,
) (int, error) {
	var redrives int32
	if redriven {
		redrives = 1
	}

	count, err := queries(ctx, r.db).MarkOrderReconciled(ctx, &db.MarkOrderReconciledParams{
		ID:           id,
		ReconciledAt: timestamptz(at),
		Redrives:     redrives,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
		}

		return 0, err
	}

	return int(count), nil
}
