//go:build integration

package rabbitmq

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/order-payment-saga/internal/messaging"
)

func TestBroker_RequeueAndReject(t *testing.T) {
	url := os.Getenv("TEST_RABBITMQ_URL")
	if url == "" {
		t.Skip("TEST_RABBITMQ_URL is not set")
	}

	b, err := New(Config{URL: url, ConsumerTag: "it", DialAttempts: 3, DialInterval: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := "it." + uuid.NewString()

	deliveries, err := b.Consume(ctx, queue, 1)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, &messaging.Message{ID: "m1", Destination: queue, Body: []byte(`{}`)}))

	d := <-deliveries
	assert.Equal(t, "m1", d.Message().ID)
	require.NoError(t, d.Requeue(ctx))

	d = <-deliveries
	assert.Equal(t, 1, d.Message().Attempt)
	require.NoError(t, d.Reject(ctx, "test"))

	dead, err := b.Consume(ctx, DeadLetterQueue(queue), 1)
	require.NoError(t, err)

	select {
	case d := <-dead:
		assert.Equal(t, "m1", d.Message().ID)
		require.NoError(t, d.Ack(ctx))
	case <-time.After(5 * time.Second):
		t.Fatal("message was not dead-lettered")
	}
}

func TestBroker_PublishReopensClosedChannel(t *testing.T) {
	url := os.Getenv("TEST_RABBITMQ_URL")
	if url == "" {
		t.Skip("TEST_RABBITMQ_URL is not set")
	}

	b, err := New(Config{URL: url, ConsumerTag: "it", DialAttempts: 3, DialInterval: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := "it." + uuid.NewString()

	require.NoError(t, b.Publish(ctx, &messaging.Message{ID: "m1", Destination: queue, Body: []byte(`{}`)}))

	// Kill the publish channel the way a channel exception would.
	b.mu.Lock()
	require.NoError(t, b.pubCh.Close())
	b.mu.Unlock()

	require.NoError(t, b.Publish(ctx, &messaging.Message{ID: "m2", Destination: queue, Body: []byte(`{}`)}))

	deliveries, err := b.Consume(ctx, queue, 2)
	require.NoError(t, err)

	var ids []string

	for range 2 {
		select {
		case d := <-deliveries:
			ids = append(ids, d.Message().ID)
			require.NoError(t, d.Ack(ctx))
		case <-time.After(5 * time.Second):
			t.Fatal("confirmed message was not delivered")
		}
	}

	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)
}
