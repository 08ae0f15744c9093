package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BrokerRedis, cfg.BrokerKind)
	assert.Equal(t, 5*time.Second, cfg.PublisherPollInterval)
	assert.Equal(t, 50, cfg.PublisherBatchSize)
	assert.Equal(t, 16, cfg.ConsumerPrefetch)
	assert.Equal(t, 2, cfg.ConsumerRetryLimit)
	assert.Equal(t, 100*time.Millisecond, cfg.ConsumerRetryInterval)
	assert.Equal(t, 3, cfg.ConsumerMaxRedeliveries)
	assert.Equal(t, PoisonDrop, cfg.OutboxPoisonPolicy)
	assert.False(t, cfg.ReconcileEnabled)
	assert.Equal(t, 10, cfg.ReconcileMaxRedrives)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("BROKER_KIND", "rabbitmq")
	t.Setenv("OUTBOX_POISON_POLICY", "dead-letter")
	t.Setenv("RECONCILE_ENABLED", "true")
	t.Setenv("RECONCILE_STALE_AFTER", "90s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BrokerRabbitMQ, cfg.BrokerKind)
	assert.Equal(t, PoisonDeadLetter, cfg.OutboxPoisonPolicy)
	assert.True(t, cfg.ReconcileEnabled)
	assert.Equal(t, 90*time.Second, cfg.ReconcileStaleAfter)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"broker kind", "BROKER_KIND", "kafka"},
		{"log format", "LOG_FORMAT", "xml"},
		{"poison policy", "OUTBOX_POISON_POLICY", "retry"},
		{"batch size", "PUBLISHER_BATCH_SIZE", "0"},
		{"prefetch", "CONSUMER_PREFETCH", "-1"},
		{"zero poll interval", "PUBLISHER_POLL_INTERVAL", "0s"},
		{"negative poll interval", "PUBLISHER_POLL_INTERVAL", "-1s"},
		{"zero reconcile interval", "RECONCILE_INTERVAL", "0s"},
		{"zero stale after", "RECONCILE_STALE_AFTER", "0s"},
		{"zero shutdown timeout", "SHUTDOWN_TIMEOUT", "0s"},
		{"reconcile batch size", "RECONCILE_BATCH_SIZE", "0"},
		{"max redrives", "RECONCILE_MAX_REDRIVES", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadConfig_MalformedDuration(t *testing.T) {
	t.Setenv("RECONCILE_INTERVAL", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate_DeadLetterPolicyNeedsQueue(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.OutboxPoisonPolicy = PoisonDeadLetter
	cfg.OutboxDeadLetterQueue = " "

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "OUTBOX_DEAD_LETTER_QUEUE")

	cfg.OutboxPoisonPolicy = PoisonDrop
	require.NoError(t, cfg.Validate())
}
