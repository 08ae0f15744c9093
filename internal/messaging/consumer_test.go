package messaging_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/order-payment-saga/internal/broker/memory"
	"github.com/jnst/order-payment-saga/internal/messaging"
)

const queue = "test.queue"

func runConsumer(t *testing.T, broker *memory.Broker, handler messaging.Handler, cfg messaging.ConsumerConfig) {
	t.Helper()

	cfg.Queue = queue
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- messaging.NewConsumer(broker, handler, cfg, nil).Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func publish(t *testing.T, broker *memory.Broker, id string) {
	t.Helper()

	require.NoError(t, broker.Publish(context.Background(), &messaging.Message{
		ID:          id,
		Type:        "Test",
		Destination: queue,
		Body:        []byte(`{}`),
	}))
}

func TestConsumer_AcksHandledMessages(t *testing.T) {
	broker := memory.New()

	var calls atomic.Int32

	runConsumer(t, broker, messaging.HandlerFunc(func(context.Context, *messaging.Message) messaging.Result {
		calls.Add(1)

		return messaging.Ack()
	}), messaging.ConsumerConfig{Prefetch: 4})

	for _, id := range []string{"a", "b", "c"} {
		publish(t, broker, id)
	}

	require.Eventually(t, func() bool { return broker.Acked(queue) == 3 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())
	assert.Empty(t, broker.DeadLetters(queue))
}

func TestConsumer_RetriesImmediatelyThenSucceeds(t *testing.T) {
	broker := memory.New()

	var calls atomic.Int32

	runConsumer(t, broker, messaging.HandlerFunc(func(context.Context, *messaging.Message) messaging.Result {
		if calls.Add(1) == 1 {
			return messaging.Retry(errors.New("transient"))
		}

		return messaging.Ack()
	}), messaging.ConsumerConfig{Prefetch: 1, RetryLimit: 2, RetryInterval: time.Millisecond, MaxRedeliveries: 3})

	publish(t, broker, "a")

	require.Eventually(t, func() bool { return broker.Acked(queue) == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
}

func TestConsumer_RequeuesUntilRedeliveriesExhausted(t *testing.T) {
	broker := memory.New()

	var calls atomic.Int32

	runConsumer(t, broker, messaging.HandlerFunc(func(context.Context, *messaging.Message) messaging.Result {
		calls.Add(1)

		return messaging.Retry(errors.New("database unavailable"))
	}), messaging.ConsumerConfig{Prefetch: 1, RetryLimit: 2, RetryInterval: time.Millisecond, MaxRedeliveries: 1})

	publish(t, broker, "a")

	require.Eventually(t, func() bool { return len(broker.DeadLetters(queue)) == 1 }, time.Second, 5*time.Millisecond)

	// Two deliveries (attempt 0 and 1), each with one call plus two immediate retries.
	assert.EqualValues(t, 6, calls.Load())

	dead := broker.DeadLetters(queue)[0]
	assert.Equal(t, 1, dead.Attempt)
	assert.Equal(t, "database unavailable", dead.Header(messaging.HeaderDeadLetterReason))
}

func TestConsumer_RejectDeadLettersWithoutRetry(t *testing.T) {
	broker := memory.New()

	var calls atomic.Int32

	runConsumer(t, broker, messaging.HandlerFunc(func(context.Context, *messaging.Message) messaging.Result {
		calls.Add(1)

		return messaging.Reject(errors.New("missing message id"))
	}), messaging.ConsumerConfig{Prefetch: 1, RetryLimit: 2, RetryInterval: time.Millisecond, MaxRedeliveries: 3})

	publish(t, broker, "a")

	require.Eventually(t, func() bool { return len(broker.DeadLetters(queue)) == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, broker.Acked(queue))
}

func TestConsumer_PanicRejects(t *testing.T) {
	broker := memory.New()

	runConsumer(t, broker, messaging.HandlerFunc(func(context.Context, *messaging.Message) messaging.Result {
		panic("boom")
	}), messaging.ConsumerConfig{Prefetch: 1})

	publish(t, broker, "a")

	require.Eventually(t, func() bool { return len(broker.DeadLetters(queue)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, broker.DeadLetters(queue)[0].Header(messaging.HeaderDeadLetterReason), "boom")
}

func TestTraceContextRoundTrip(t *testing.T) {
	msg := &messaging.Message{}
	ctx := messaging.ExtractTraceContext(context.Background(), msg)
	assert.NotNil(t, ctx)

	messaging.InjectTraceContext(ctx, msg)
	assert.NotNil(t, msg.Headers)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "ack", messaging.OutcomeAck.String())
	assert.Equal(t, "retry", messaging.OutcomeRetry.String())
	assert.Equal(t, "reject", messaging.OutcomeReject.String())
}
