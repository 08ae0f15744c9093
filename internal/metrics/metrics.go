// Package metrics defines the Prometheus collectors shared by both services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "saga"

// Relay outcomes recorded per outbox row.
const (
	RelayPublished    = "published"
	RelayFailed       = "failed"
	RelayDropped      = "dropped"
	RelayDeadLettered = "dead_lettered"
)

// Metrics groups every collector of one service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	relayMessages    *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	relayCycles      prometheus.Counter
	consumerOutcomes *prometheus.CounterVec
	consumerDuration *prometheus.HistogramVec
	reconcileRedrive prometheus.Counter
}

// New registers the collectors on reg, labelled with the service name.
func New(reg prometheus.Registerer, service string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": service}

	return &Metrics{
		relayMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "outbox",
			Name:        "relay_messages_total",
			Help:        "Outbox rows handled by the relay, by message type and result.",
			ConstLabels: labels,
		}, []string{"message_type", "result"}),
		outboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "outbox",
			Name:        "pending_messages",
			Help:        "Outbox rows not yet sent, sampled after each relay cycle.",
			ConstLabels: labels,
		}),
		relayCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "outbox",
			Name:        "relay_cycles_total",
			Help:        "Completed relay cycles.",
			ConstLabels: labels,
		}),
		consumerOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consumer",
			Name:        "messages_total",
			Help:        "Consumed messages, by queue and final outcome.",
			ConstLabels: labels,
		}, []string{"queue", "outcome"}),
		consumerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "consumer",
			Name:        "handler_duration_seconds",
			Help:        "Time spent in message handlers, retries included.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"queue"}),
		reconcileRedrive: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reconciler",
			Name:        "redrives_total",
			Help:        "Payment commands re-published for stale orders.",
			ConstLabels: labels,
		}),
	}
}

// RelayMessage counts one outbox row handled with the given result.
func (m *Metrics) RelayMessage(messageType, result string) {
	if m == nil {
		return
	}

	m.relayMessages.WithLabelValues(messageType, result).Inc()
}

// RelayCycle records a finished relay cycle and the backlog left behind it.
func (m *Metrics) RelayCycle(pending int64) {
	if m == nil {
		return
	}

	m.relayCycles.Inc()
	m.outboxPending.Set(float64(pending))
}

// ConsumerOutcome records the final outcome of one delivery.
func (m *Metrics) ConsumerOutcome(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.consumerOutcomes.WithLabelValues(queue, outcome).Inc()
	m.consumerDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// Redrive counts one re-published payment command.
func (m *Metrics) Redrive() {
	if m == nil {
		return
	}

	m.reconcileRedrive.Inc()
}
