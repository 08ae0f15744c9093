package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/order-payment-saga/internal/model"
)

func TestTransactionRollbackRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	store := New()
	boom := errors.New("boom")

	err := store.TransactionManager().WithTransaction(ctx, func(ctx context.Context) error {
		_, err := store.Orders().Create(ctx, &model.CreateOrderParams{UserID: "u1", Amount: decimal.NewFromInt(5)})
		require.NoError(t, err)

		_, err = store.Outbox().Create(ctx, &model.CreateOutboxMessageParams{
			CorrelationID: uuid.New(),
			MessageType:   model.MessageTypeProcessPaymentCommand,
			Payload:       []byte(`{}`),
		})
		require.NoError(t, err)

		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Empty(t, store.AllOrders())
	assert.Empty(t, store.OutboxMessages())
}

func TestTransactionCommitFault(t *testing.T) {
	ctx := context.Background()
	store := New()
	store.InjectFault(OpTransactionCommit, errors.New("connection reset"))

	err := store.TransactionManager().WithTransaction(ctx, func(ctx context.Context) error {
		_, err := store.Accounts().Create(ctx, "u1")

		return err
	})
	require.Error(t, err)

	_, err = store.Accounts().GetByUserID(ctx, "u1")
	require.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestNestedTransactionJoinsOuter(t *testing.T) {
	ctx := context.Background()
	store := New()
	tm := store.TransactionManager()

	err := tm.WithTransaction(ctx, func(ctx context.Context) error {
		return tm.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := store.Accounts().Create(ctx, "u1")

			return err
		})
	})
	require.NoError(t, err)

	_, err = store.Accounts().GetByUserID(ctx, "u1")
	require.NoError(t, err)
}

func TestUpdateBalanceComparesVersion(t *testing.T) {
	ctx := context.Background()
	store := New()

	account, err := store.Accounts().Create(ctx, "u1")
	require.NoError(t, err)

	updated, err := store.Accounts().UpdateBalance(ctx, account, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, account.Version+1, updated.Version)

	_, err = store.Accounts().UpdateBalance(ctx, account, decimal.NewFromInt(20))
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)

	current, err := store.Accounts().GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, current.Balance.Equal(decimal.NewFromInt(10)))
}

func TestAccountCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := New()

	_, err := store.Accounts().Create(ctx, "u1")
	require.NoError(t, err)

	_, err = store.Accounts().Create(ctx, "u1")
	require.ErrorIs(t, err, model.ErrAccountAlreadyExists)
	require.ErrorIs(t, err, model.ErrConflict)
}

func TestOutboxPendingOrderAndMarkSent(t *testing.T) {
	ctx := context.Background()
	store := New()

	var ids []uuid.UUID

	for range 3 {
		m, err := store.Outbox().Create(ctx, &model.CreateOutboxMessageParams{
			CorrelationID: uuid.New(),
			MessageType:   model.MessageTypePaymentStatusEvent,
			Payload:       []byte(`{}`),
		})
		require.NoError(t, err)

		ids = append(ids, m.ID)
	}

	require.NoError(t, store.Outbox().MarkSent(ctx, ids[0], time.Now()))

	pending, err := store.Outbox().ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[1], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)

	limited, err := store.Outbox().ListPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	count, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestInboxRecordErrorKeepsMessageUnprocessed(t *testing.T) {
	ctx := context.Background()
	store := New()
	id := uuid.New()

	require.NoError(t, store.Inbox().RecordError(ctx, id, model.MessageTypeProcessPaymentCommand, "db down"))

	msg, err := store.Inbox().GetForUpdate(ctx, id)
	require.NoError(t, err)
	assert.False(t, msg.IsProcessed())
	require.NotNil(t, msg.ProcessingError)
	assert.Equal(t, "db down", *msg.ProcessingError)

	require.NoError(t, store.Inbox().MarkProcessed(ctx, id, time.Now()))
	require.NoError(t, store.Inbox().RecordError(ctx, id, model.MessageTypeProcessPaymentCommand, "late failure"))

	msg, err = store.Inbox().GetForUpdate(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.IsProcessed())
	assert.Nil(t, msg.ProcessingError)

	_, err = store.Inbox().Create(ctx, id, model.MessageTypeProcessPaymentCommand)
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)
}

func TestListStale(t *testing.T) {
	ctx := context.Background()
	store := New()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	old, err := store.Orders().Create(ctx, &model.CreateOrderParams{UserID: "u1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = store.Orders().UpdateStatus(ctx, old.ID, model.OrderStatusProcessing, nil)
	require.NoError(t, err)

	now = base.Add(10 * time.Minute)
	fresh, err := store.Orders().Create(ctx, &model.CreateOrderParams{UserID: "u1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = store.Orders().UpdateStatus(ctx, fresh.ID, model.OrderStatusProcessing, nil)
	require.NoError(t, err)

	stale, err := store.Orders().ListStale(ctx, model.OrderStatusProcessing, base.Add(5*time.Minute), 3, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestMarkReconciled(t *testing.T) {
	ctx := context.Background()
	store := New()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	orders := store.Orders()

	var ids []uuid.UUID

	for range 3 {
		o, err := orders.Create(ctx, &model.CreateOrderParams{UserID: "u1", Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	before := base.Add(time.Hour)
	visit := base.Add(10 * time.Minute)

	count, err := orders.MarkReconciled(ctx, ids[0], visit, true)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = orders.MarkReconciled(ctx, ids[1], visit.Add(time.Minute), false)
	require.NoError(t, err)
	assert.Zero(t, count)

	stale, err := orders.ListStale(ctx, model.OrderStatusNew, before, 5, 10)
	require.NoError(t, err)
	require.Len(t, stale, 3)
	assert.Equal(t, []uuid.UUID{ids[2], ids[0], ids[1]}, []uuid.UUID{stale[0].ID, stale[1].ID, stale[2].ID})

	// Visited since the cutoff.
	stale, err = orders.ListStale(ctx, model.OrderStatusNew, visit, 5, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ids[2], stale[0].ID)

	// Redrive cap reached.
	stale, err = orders.ListStale(ctx, model.OrderStatusNew, before, 1, 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	order, err := orders.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, base, order.UpdatedAt)

	_, err = orders.MarkReconciled(ctx, uuid.New(), visit, true)
	require.ErrorIs(t, err, model.ErrOrderNotFound)
}
