package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jnst/order-payment-saga/internal/metrics"
)

// Final settlement labels recorded in metrics.
const (
	settledAck     = "ack"
	settledRequeue = "requeue"
	settledReject  = "reject"
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Queue string
	// Prefetch bounds both the broker prefetch and the number of workers.
	Prefetch int
	// RetryLimit is the number of immediate retries after a Retry outcome.
	RetryLimit    int
	RetryInterval time.Duration
	// MaxRedeliveries is the number of re-enqueues before a retried message is rejected.
	MaxRedeliveries int
}

// Consumer runs a pool of workers settling deliveries of one queue.
type Consumer struct {
	sub     Subscriber
	handler Handler
	cfg     ConsumerConfig
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewConsumer creates a new Consumer.
func NewConsumer(sub Subscriber, handler Handler, cfg ConsumerConfig, m *metrics.Metrics) *Consumer {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}

	return &Consumer{
		sub:     sub,
		handler: handler,
		cfg:     cfg,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

// Run consumes until ctx is done. In-flight handlers run to completion.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.sub.Consume(ctx, c.cfg.Queue, c.cfg.Prefetch)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.cfg.Queue, err)
	}

	slog.Info("Consumer started",
		slog.String("queue", c.cfg.Queue),
		slog.Int("workers", c.cfg.Prefetch))

	var wg sync.WaitGroup

	for range c.cfg.Prefetch {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for d := range deliveries {
				c.process(ctx, d)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		slog.Info("Consumer stopped", slog.String("queue", c.cfg.Queue))

		return nil
	}

	return fmt.Errorf("%s: %w", c.cfg.Queue, ErrDeliveriesClosed)
}

func (c *Consumer) process(ctx context.Context, d Delivery) {
	msg := d.Message()
	start := time.Now()

	// Settlement and handlers must outlive shutdown so no transaction is cut short.
	hctx := context.WithoutCancel(ExtractTraceContext(ctx, msg))

	hctx, span := c.tracer.Start(hctx, "consume "+c.cfg.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", c.cfg.Queue),
			attribute.String("messaging.message.id", msg.ID),
			attribute.String("messaging.message.type", msg.Type),
			attribute.Int("messaging.attempt", msg.Attempt),
		))
	defer span.End()

	logger := slog.With(
		slog.String("queue", c.cfg.Queue),
		slog.String("message_id", msg.ID),
		slog.String("message_type", msg.Type),
		slog.Int("attempt", msg.Attempt))

	result := c.handle(ctx, hctx, msg, logger)

	var (
		settled   string
		settleErr error
	)

	switch result.Outcome {
	case OutcomeAck:
		settled = settledAck
		settleErr = d.Ack(hctx)
	case OutcomeReject:
		settled = settledReject
		logger.Error("Rejecting message", slog.Any("error", result.Err))
		settleErr = d.Reject(hctx, errorText(result.Err))
	default:
		if msg.Attempt >= c.cfg.MaxRedeliveries {
			settled = settledReject
			logger.Error("Redeliveries exhausted, rejecting message", slog.Any("error", result.Err))
			settleErr = d.Reject(hctx, errorText(result.Err))
		} else {
			settled = settledRequeue
			logger.Warn("Requeueing message", slog.Any("error", result.Err))
			settleErr = d.Requeue(hctx)
		}
	}

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}

	if settleErr != nil {
		logger.Error("Failed to settle message", slog.String("settlement", settled), slog.Any("error", settleErr))
	}

	c.metrics.ConsumerOutcome(c.cfg.Queue, settled, time.Since(start))
}

// handle runs the handler with bounded immediate retries.
func (c *Consumer) handle(ctx, hctx context.Context, msg *Message, logger *slog.Logger) Result {
	result := c.safeHandle(hctx, msg)

	for retry := 1; retry <= c.cfg.RetryLimit && result.Outcome == OutcomeRetry; retry++ {
		logger.Warn("Handler asked for retry",
			slog.Int("retry", retry),
			slog.Any("error", result.Err))

		select {
		case <-ctx.Done():
			return result
		case <-time.After(c.cfg.RetryInterval):
		}

		result = c.safeHandle(hctx, msg)
	}

	return result
}

func (c *Consumer) safeHandle(ctx context.Context, msg *Message) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			result = Reject(fmt.Errorf("handler panic: %v", p))
		}
	}()

	return c.handler.Handle(ctx, msg)
}

func errorText(err error) string {
	if err == nil {
		return "unspecified failure"
	}

	return err.Error()
}
