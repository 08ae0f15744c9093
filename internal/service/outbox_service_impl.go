package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/metrics"
	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/repository"
)

const tracerName = "github.com/jnst/order-payment-saga/internal/service"

// PoisonPolicy decides what the relay does with a row whose payload cannot be decoded.
type PoisonPolicy string

const (
	// PoisonPolicyDrop marks the row sent without publishing it.
	PoisonPolicyDrop PoisonPolicy = "drop"
	// PoisonPolicyDeadLetter publishes the raw row to the dead-letter queue, then marks it sent.
	PoisonPolicyDeadLetter PoisonPolicy = "dead-letter"
)

// IsValid reports whether p is a known policy.
func (p PoisonPolicy) IsValid() bool {
	return p == PoisonPolicyDrop || p == PoisonPolicyDeadLetter
}

// RelayConfig configures the outbox relay.
type RelayConfig struct {
	PoisonPolicy    PoisonPolicy
	DeadLetterQueue string
}

// RelayStats summarizes one relay cycle.
type RelayStats struct {
	Published    int
	Failed       int
	Dropped      int
	DeadLettered int
}

// Total returns the number of rows looked at.
func (s *RelayStats) Total() int {
	return s.Published + s.Failed + s.Dropped + s.DeadLettered
}

// OutboxServiceImpl implements OutboxService for relaying outbox messages.
type OutboxServiceImpl struct {
	outboxRepo repository.OutboxRepository
	publisher  messaging.Publisher
	cfg        RelayConfig
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// NewOutboxServiceImpl creates a new OutboxService implementation.
func NewOutboxServiceImpl(
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	cfg RelayConfig,
	m *metrics.Metrics,
) OutboxService {
	if cfg.PoisonPolicy == "" {
		cfg.PoisonPolicy = PoisonPolicyDrop
	}

	return &OutboxServiceImpl{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		cfg:        cfg,
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPendingMessages publishes pending rows oldest first. A failing row is
// left pending and does not stop the cycle.
func (s *OutboxServiceImpl) ProcessPendingMessages(ctx context.Context, limit int) (*RelayStats, error) {
	messages, err := s.outboxRepo.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox messages: %w", err)
	}

	stats := &RelayStats{}

	for _, message := range messages {
		if ctx.Err() != nil {
			break
		}

		s.relay(ctx, message, stats)
	}

	pending, err := s.outboxRepo.CountPending(ctx)
	if err != nil {
		slog.Warn("Failed to count pending outbox messages", slog.Any("error", err))
	} else {
		s.metrics.RelayCycle(pending)
	}

	if stats.Total() > 0 {
		slog.Info("Outbox relay cycle finished",
			slog.Int("published", stats.Published),
			slog.Int("failed", stats.Failed),
			slog.Int("dropped", stats.Dropped),
			slog.Int("dead_lettered", stats.DeadLettered),
			slog.Int64("pending", pending))
	}

	return stats, nil
}

func (s *OutboxServiceImpl) relay(ctx context.Context, message *model.OutboxMessage, stats *RelayStats) {
	logger := slog.With(
		slog.String("outbox_id", message.ID.String()),
		slog.String("message_type", message.MessageType.String()),
		slog.String("destination", message.Destination))

	msg, err := BrokerMessage(message)
	if err != nil {
		s.handlePoison(ctx, message, err, stats, logger)

		return
	}

	if err := s.publish(ctx, msg); err != nil {
		logger.Warn("Failed to publish outbox message, will retry next cycle", slog.Any("error", err))
		stats.Failed++
		s.metrics.RelayMessage(message.MessageType.String(), metrics.RelayFailed)

		return
	}

	stats.Published++
	s.metrics.RelayMessage(message.MessageType.String(), metrics.RelayPublished)

	if err := s.outboxRepo.MarkSent(ctx, message.ID, s.now()); err != nil {
		logger.Error("Published outbox message could not be marked sent, it will be published again",
			slog.Any("error", err))

		return
	}

	logger.Debug("Published outbox message", slog.String("message_id", msg.ID))
}

func (s *OutboxServiceImpl) handlePoison(
	ctx context.Context, message *model.OutboxMessage, cause error, stats *RelayStats, logger *slog.Logger,
) {
	if s.cfg.PoisonPolicy == PoisonPolicyDeadLetter {
		dead := &messaging.Message{
			ID:            message.ID.String(),
			CorrelationID: message.CorrelationID.String(),
			Type:          message.MessageType.String(),
			Destination:   s.cfg.DeadLetterQueue,
			Body:          message.Payload,
		}
		dead.SetHeader(messaging.HeaderMessageType, message.MessageType.String())
		dead.SetHeader(messaging.HeaderCorrelationID, dead.CorrelationID)
		dead.SetHeader(messaging.HeaderOriginalDestination, message.Destination)
		dead.SetHeader(messaging.HeaderDeadLetterReason, cause.Error())

		if err := s.publish(ctx, dead); err != nil {
			logger.Error("Failed to dead-letter undeliverable outbox message",
				slog.Any("cause", cause),
				slog.Any("error", err))
			stats.Failed++
			s.metrics.RelayMessage(message.MessageType.String(), metrics.RelayFailed)

			return
		}

		logger.Error("Dead-lettered undeliverable outbox message",
			slog.String("dead_letter_queue", s.cfg.DeadLetterQueue),
			slog.Any("cause", cause))
		stats.DeadLettered++
		s.metrics.RelayMessage(message.MessageType.String(), metrics.RelayDeadLettered)
	} else {
		logger.Error("Dropping undeliverable outbox message", slog.Any("cause", cause))
		stats.Dropped++
		s.metrics.RelayMessage(message.MessageType.String(), metrics.RelayDropped)
	}

	if err := s.outboxRepo.MarkSent(ctx, message.ID, s.now()); err != nil {
		logger.Error("Failed to mark undeliverable outbox message sent", slog.Any("error", err))
	}
}

func (s *OutboxServiceImpl) publish(ctx context.Context, msg *messaging.Message) error {
	ctx, span := s.tracer.Start(ctx, "publish "+msg.Destination,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Destination),
			attribute.String("messaging.message.id", msg.ID),
			attribute.String("messaging.message.type", msg.Type),
		))
	defer span.End()

	messaging.InjectTraceContext(ctx, msg)

	if err := s.publisher.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	return nil
}

// BrokerMessage converts an outbox row into the message put on the wire.
// Payment commands carry the row id as message id and status events their event id,
// so re-publishing a row never changes its identity.
func BrokerMessage(message *model.OutboxMessage) (*messaging.Message, error) {
	contract, err := model.DecodeContract(message.MessageType, message.Payload)
	if err != nil {
		return nil, err
	}

	id := message.ID.String()
	if event, ok := contract.(model.PaymentStatusEvent); ok {
		id = event.EventID.String()
	}

	msg := &messaging.Message{
		ID:            id,
		CorrelationID: message.CorrelationID.String(),
		Type:          message.MessageType.String(),
		Destination:   message.Destination,
		Body:          message.Payload,
	}
	msg.SetHeader(messaging.HeaderMessageType, msg.Type)
	msg.SetHeader(messaging.HeaderCorrelationID, msg.CorrelationID)

	return msg, nil
}
