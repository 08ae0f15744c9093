package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/order-payment-saga/internal/broker/memory"
	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/repository/memstore"
	"github.com/jnst/order-payment-saga/internal/service"
)

func TestLoop_RunsCyclesUntilStopped(t *testing.T) {
	var cycles atomic.Int32

	loop := NewLoop("test", time.Millisecond, func(context.Context) error {
		cycles.Add(1)

		return errors.New("cycle errors are logged, not fatal")
	})

	require.NoError(t, loop.Start(context.Background()))
	require.ErrorIs(t, loop.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return cycles.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, loop.Stop(context.Background()))
	stopped := cycles.Load()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, cycles.Load())

	// A stopped loop can be started again.
	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Stop(context.Background()))
}

func TestLoop_CyclesNeverOverlap(t *testing.T) {
	var (
		running  atomic.Int32
		overlaps atomic.Int32
		cycles   atomic.Int32
	)

	loop := NewLoop("test", 0, func(context.Context) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}

		time.Sleep(time.Millisecond)
		running.Add(-1)
		cycles.Add(1)

		return nil
	})

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return cycles.Load() >= 5 }, time.Second, time.Millisecond)
	require.NoError(t, loop.Stop(context.Background()))

	assert.Zero(t, overlaps.Load())
}

func TestLoop_InFlightCycleCompletesOnStop(t *testing.T) {
	started := make(chan struct{})

	var finished atomic.Bool

	loop := NewLoop("test", time.Hour, func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)

		if ctx.Err() == nil {
			finished.Store(true)
		}

		return nil
	})

	require.NoError(t, loop.Start(context.Background()))
	<-started
	require.NoError(t, loop.Stop(context.Background()))

	assert.True(t, finished.Load())
}

func TestLoop_StopWithoutStart(t *testing.T) {
	loop := NewLoop("idle", time.Second, func(context.Context) error { return nil })
	require.NoError(t, loop.Stop(context.Background()))
}

func TestOutboxRelay_EventuallySendsEveryRow(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	broker := memory.New()
	orders := service.NewOrderServiceImpl(store.Orders(), store.Outbox(), store.TransactionManager(), "payments")
	relay := NewOutboxRelay(service.NewOutboxServiceImpl(store.Outbox(), broker, service.RelayConfig{}, nil), time.Millisecond, 2)

	for range 5 {
		_, err := orders.CreateOrder(ctx, &model.CreateOrderParams{UserID: "u1", Amount: decimal.NewFromInt(3)})
		require.NoError(t, err)
	}

	require.NoError(t, relay.Start(ctx))
	t.Cleanup(func() { require.NoError(t, relay.Stop(context.Background())) })

	require.Eventually(t, func() bool {
		count, err := store.Outbox().CountPending(ctx)

		return err == nil && count == 0
	}, time.Second, time.Millisecond)

	assert.Len(t, broker.Published("payments"), 5)
}

func TestReconciler_RedrivesStaleOrders(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	broker := memory.New()
	store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })

	orders := service.NewOrderServiceImpl(store.Orders(), store.Outbox(), store.TransactionManager(), "payments")
	outbox := service.NewOutboxServiceImpl(store.Outbox(), broker, service.RelayConfig{}, nil)

	order, err := orders.CreateOrder(ctx, &model.CreateOrderParams{UserID: "u1", Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)
	_, err = outbox.ProcessPendingMessages(ctx, 10)
	require.NoError(t, err)

	reconciler := NewReconciler(
		service.NewReconcileServiceImpl(store.Orders(), store.Outbox(), broker, 10, nil), time.Hour, time.Minute, 10)
	require.NoError(t, reconciler.Start(ctx))
	t.Cleanup(func() { require.NoError(t, reconciler.Stop(context.Background())) })

	require.Eventually(t, func() bool { return len(broker.Published("payments")) == 2 }, time.Second, time.Millisecond)

	published := broker.Published("payments")
	assert.Equal(t, published[0].ID, published[1].ID)
	assert.Equal(t, order.ID.String(), published[1].CorrelationID)
	assert.NotEqual(t, uuid.Nil.String(), published[1].ID)
}
