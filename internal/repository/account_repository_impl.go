package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jnst/order-payment-saga/internal/db"
	"github.com/jnst/order-payment-saga/internal/model"
)

// AccountRepositoryImpl implements AccountRepository using PostgreSQL.
type AccountRepositoryImpl struct {
	db *db.Queries
}

// NewAccountRepositoryImpl creates a new AccountRepository implementation.
func NewAccountRepositoryImpl(pool *pgxpool.Pool) AccountRepository {
	return &AccountRepositoryImpl{db: db.New(pool)}
}

// Create opens a zero-balance account for the user.
func (r *AccountRepositoryImpl) Create(ctx context.Context, userID string) (*model.Account, error) {
	dbAccount, err := queries(ctx, r.db).CreateAccount(ctx, &db.CreateAccountParams{
		ID:     uuid.New(),
		UserID: userID,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user %s", model.ErrAccountAlreadyExists, userID)
		}

		return nil, err
	}

	return toAccount(dbAccount), nil
}

// GetByUserID retrieves the account owned by a user.
func (r *AccountRepositoryImpl) GetByUserID(ctx context.Context, userID string) (*model.Account, error) {
	dbAccount, err := queries(ctx, r.db).GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", model.ErrAccountNotFound, userID)
		}

		return nil, err
	}

	return toAccount(dbAccount), nil
}

// UpdateBalance writes the new balance guarded by the account version.
func (r *AccountRepositoryImpl) UpdateBalance(
	ctx context.Context, account *model.Account, newBalance decimal.Decimal,
) (*model.Account, error) {
	dbAccount, err := queries(ctx, r.db).UpdateAccountBalance(ctx, &db.UpdateAccountBalanceParams{
		ID:              account.ID,
		Balance:         newBalance,
		ExpectedVersion: account.Version,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s at version %d", model.ErrConcurrencyConflict, account.ID, account.Version)
		}

		return nil, err
	}

	return toAccount(dbAccount), nil
}
