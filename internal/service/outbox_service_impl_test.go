package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/order-payment-saga/internal/broker/memory"
	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/metrics"
	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/repository/memstore"
)

const deadLetterQueue = "outbox.dead-letter"

func newRelay(store *memstore.Store, broker *memory.Broker, policy PoisonPolicy) OutboxService {
	return NewOutboxServiceImpl(store.Outbox(), broker, RelayConfig{
		PoisonPolicy:    policy,
		DeadLetterQueue: deadLetterQueue,
	}, metrics.New(prometheus.NewRegistry(), "test"))
}

func addOutboxRow(t *testing.T, store *memstore.Store, messageType model.MessageType, payload []byte, destination string) *model.OutboxMessage {
	t.Helper()

	row, err := store.Outbox().Create(context.Background(), &model.CreateOutboxMessageParams{
		CorrelationID: uuid.New(),
		MessageType:   messageType,
		Payload:       payload,
		Destination:   destination,
	})
	require.NoError(t, err)

	return row
}

func commandPayload(t *testing.T) []byte {
	t.Helper()

	payload, err := model.EncodeContract(model.ProcessPaymentCommand{
		OrderID: uuid.New(),
		UserID:  "u1",
		Amount:  decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	return payload
}

func eventPayload(t *testing.T, eventID uuid.UUID) []byte {
	t.Helper()

	payload, err := model.EncodeContract(model.PaymentStatusEvent{
		EventID:     eventID,
		OrderID:     uuid.New(),
		UserID:      "u1",
		IsSuccess:   true,
		ProcessedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	return payload
}

func TestRelay_PublishesOldestFirstWithStableIDs(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	broker := memory.New()
	relay := newRelay(store, broker, PoisonPolicyDrop)

	first := addOutboxRow(t, store, model.MessageTypeProcessPaymentCommand, commandPayload(t), paymentCommandQueue)
	second := addOutboxRow(t, store, model.MessageTypeProcessPaymentCommand, commandPayload(t), paymentCommandQueue)
	eventID := uuid.New()
	addOutboxRow(t, store, model.MessageTypePaymentStatusEvent, eventPayload(t, eventID), statusEventQueue)

	stats, err := relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Published)

	commands := broker.Published(paymentCommandQueue)
	require.Len(t, commands, 2)
	assert.Equal(t, first.ID.String(), commands[0].ID)
	assert.Equal(t, second.ID.String(), commands[1].ID)
	assert.Equal(t, first.CorrelationID.String(), commands[0].CorrelationID)
	assert.Equal(t, string(model.MessageTypeProcessPaymentCommand), commands[0].Header(messaging.HeaderMessageType))

	events := broker.Published(statusEventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, eventID.String(), events[0].ID)

	for _, row := range store.OutboxMessages() {
		assert.False(t, row.IsPending())
	}
}

func TestRelay_BatchLimit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	relay := newRelay(store, memory.New(), PoisonPolicyDrop)

	for range 3 {
		addOutboxRow(t, store, model.MessageTypeProcessPaymentCommand, commandPayload(t), paymentCommandQueue)
	}

	stats, err := relay.ProcessPendingMessages(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Published)

	count, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRelay_PublishFailureDoesNotBlockLaterRows(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	broker := memory.New()
	relay := newRelay(store, broker, PoisonPolicyDrop)

	stuck := addOutboxRow(t, store, model.MessageTypeProcessPaymentCommand, commandPayload(t), paymentCommandQueue)
	later := addOutboxRow(t, store, model.MessageTypePaymentStatusEvent, eventPayload(t, uuid.New()), statusEventQueue)

	broker.FailPublish(paymentCommandQueue, errors.New("connection refused"))

	stats, err := relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Published)

	pending, err := store.Outbox().ListPending(ctx, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stuck.ID, pending[0].ID)
	assert.NotEqual(t, later.ID, pending[0].ID)

	broker.FailPublish(paymentCommandQueue, nil)

	stats, err = relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
	assert.Len(t, broker.Published(paymentCommandQueue), 1)
}

func TestRelay_MarkSentFailureRepublishesSameID(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	broker := memory.New()
	relay := newRelay(store, broker, PoisonPolicyDrop)

	row := addOutboxRow(t, store, model.MessageTypeProcessPaymentCommand, commandPayload(t), paymentCommandQueue)

	store.InjectFault(memstore.OpOutboxMarkSent, errors.New("lost connection"))
	_, err := relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)

	store.InjectFault(memstore.OpOutboxMarkSent, nil)
	_, err = relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)

	published := broker.Published(paymentCommandQueue)
	require.Len(t, published, 2)
	assert.Equal(t, row.ID.String(), published[0].ID)
	assert.Equal(t, published[0].ID, published[1].ID)
}

func TestRelay_PoisonDrop(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	broker := memory.New()
	relay := newRelay(store, broker, PoisonPolicyDrop)

	addOutboxRow(t, store, "OrderShipped", []byte(`{}`), paymentCommandQueue)
	addOutboxRow(t, store, model.MessageTypeProcessPaymentCommand, []byte(`not json`), paymentCommandQueue)

	stats, err := relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Dropped)

	// Dropped rows are lost: marked sent, never published.
	assert.Empty(t, broker.Published(paymentCommandQueue))

	count, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRelay_PoisonDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	broker := memory.New()
	relay := newRelay(store, broker, PoisonPolicyDeadLetter)

	row := addOutboxRow(t, store, "OrderShipped", []byte(`{"x":1}`), paymentCommandQueue)

	broker.FailPublish(deadLetterQueue, errors.New("broker down"))

	stats, err := relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	count, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	broker.FailPublish(deadLetterQueue, nil)

	stats, err = relay.ProcessPendingMessages(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLettered)

	dead := broker.Published(deadLetterQueue)
	require.Len(t, dead, 1)
	assert.Equal(t, row.ID.String(), dead[0].ID)
	assert.Equal(t, `{"x":1}`, string(dead[0].Body))
	assert.Equal(t, paymentCommandQueue, dead[0].Header(messaging.HeaderOriginalDestination))
	assert.Contains(t, dead[0].Header(messaging.HeaderDeadLetterReason), "unknown message type")
	assert.Empty(t, broker.Published(paymentCommandQueue))

	count, err = store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRelay_ListFailure(t *testing.T) {
	store := memstore.New()
	relay := newRelay(store, memory.New(), PoisonPolicyDrop)
	store.InjectFault(memstore.OpOutboxListPending, errors.New("db down"))

	_, err := relay.ProcessPendingMessages(context.Background(), 50)
	require.Error(t, err)
}

func TestPoisonPolicy_IsValid(t *testing.T) {
	assert.True(t, PoisonPolicyDrop.IsValid())
	assert.True(t, PoisonPolicyDeadLetter.IsValid())
	assert.False(t, PoisonPolicy("ignore").IsValid())
}
