package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, user_id, balance, version, created_at, updated_at`

const createAccount = `
INSERT INTO accounts (id, user_id, balance, version, created_at, updated_at)
VALUES ($1, $2, 0, 1, now(), now())
RETURNING ` + accountColumns

type CreateAccountParams struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"user_id"`
}

func (q *Queries) CreateAccount(ctx context.Context, arg *CreateAccountParams) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, createAccount, arg.ID, arg.UserID))
}

const getAccountByUserID = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`

func (q *Queries) GetAccountByUserID(ctx context.Context, userID string) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccountByUserID, userID))
}

const updateAccountBalance = `
UPDATE accounts
SET balance = $2, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $3
RETURNING ` + accountColumns

type UpdateAccountBalanceParams struct {
	ID              uuid.UUID       `json:"id"`
	Balance         decimal.Decimal `json:"balance"`
	ExpectedVersion int64           `json:"expected_version"`
}

// UpdateAccountBalance is a compare-and-swap on version.
// It returns pgx.ErrNoRows when the stored version no longer matches.
func (q *Queries) UpdateAccountBalance(ctx context.Context, arg *UpdateAccountBalanceParams) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, updateAccountBalance, arg.ID, arg.Balance, arg.ExpectedVersion))
}

func scanAccount(row rowScanner) (Account, error) {
	var i Account
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Balance,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)

	return i, err
}
