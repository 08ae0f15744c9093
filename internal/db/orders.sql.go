package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, amount, description, status, status_reason, created_at, updated_at`

const createOrder = `
INSERT INTO orders (id, user_id, amount, description, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
RETURNING ` + orderColumns

type CreateOrderParams struct {
	ID          uuid.UUID       `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description pgtype.Text     `json:"description"`
	Status      string          `json:"status"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg *CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.ID,
		arg.UserID,
		arg.Amount,
		arg.Description,
		arg.Status,
	)

	return scanOrder(row)
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const listOrdersByUser = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

func (q *Queries) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Order

	for rows.Next() {
		i, err := scanOrder(rows)
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

const updateOrderStatus = `
UPDATE orders
SET status = $2, status_reason = $3, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID           uuid.UUID   `json:"id"`
	Status       string      `json:"status"`
	StatusReason pgtype.Text `json:"status_reason"`
}

// UpdateOrderStatus returns pgx.ErrNoRows when the order does not exist.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg *UpdateOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status, arg.StatusReason))
}

const listStaleOrders = `
SELECT ` + orderColumns + `
FROM orders
WHERE status = $1
  AND updated_at < $2
  AND (reconciled_at IS NULL OR reconciled_at < $2)
  AND redrive_count < $3
ORDER BY reconciled_at ASC NULLS FIRST, updated_at ASC
LIMIT $4`

type ListStaleOrdersParams struct {
	Status        string             `json:"status"`
	UpdatedBefore pgtype.Timestamptz `json:"updated_before"`
	MaxRedrives   int32              `json:"max_redrives"`
	Limit         int32              `json:"limit"`
}

func (q *Queries) ListStaleOrders(ctx context.Context, arg *ListStaleOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listStaleOrders, arg.Status, arg.UpdatedBefore, arg.MaxRedrives, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Order

	for rows.Next() {
		i, err := scanOrder(rows)
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

const markOrderReconciled = `
UPDATE orders
SET reconciled_at = $2, redrive_count = redrive_count + $3
WHERE id = $1
RETURNING redrive_count`

type MarkOrderReconciledParams struct {
	ID           uuid.UUID          `json:"id"`
	ReconciledAt pgtype.Timestamptz `json:"reconciled_at"`
	Redrives     int32              `json:"redrives"`
}

// MarkOrderReconciled leaves status and updated_at untouched.
// It returns pgx.ErrNoRows when the order does not exist.
func (q *Queries) MarkOrderReconciled(ctx context.Context, arg *MarkOrderReconciledParams) (int32, error) {
	var redriveCount int32
	err := q.db.QueryRow(ctx, markOrderReconciled, arg.ID, arg.ReconciledAt, arg.Redrives).Scan(&redriveCount)

	return redriveCount, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Amount,
		&i.Description,
		&i.Status,
		&i.StatusReason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)

	return i, err
}
