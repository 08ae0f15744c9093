// Package rabbitmq implements messaging.Broker on RabbitMQ durable queues.
//
// Each queue gets a direct dead-letter exchange "<queue>.dlx" routing to "<queue>.dlq";
// rejected deliveries are nacked without requeue and land there.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jnst/order-payment-saga/internal/messaging"
)

const (
	headerAttempt    = "x-attempt"
	contentType      = "application/json"
	deadLetterSuffix = ".dlq"
	exchangeSuffix   = ".dlx"

	// DefaultConfirmTimeout bounds the wait for a publisher confirm.
	DefaultConfirmTimeout = 5 * time.Second
)

// Publisher confirm errors.
var (
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("confirmation timed out")
)

// Config configures the RabbitMQ broker.
type Config struct {
	URL          string
	ConsumerTag  string
	DialAttempts int
	DialInterval time.Duration
	// ConfirmTimeout defaults to DefaultConfirmTimeout.
	ConfirmTimeout time.Duration
}

// Broker is a messaging.Broker backed by RabbitMQ.
type Broker struct {
	conn           *amqp.Connection
	consumerTag    string
	confirmTimeout time.Duration

	mu       sync.Mutex
	pubCh    *amqp.Channel // in confirm mode; reopened when closed
	declared map[string]struct{}
}

// New dials RabbitMQ, retrying while the server comes up.
func New(cfg Config) (*Broker, error) {
	if cfg.DialAttempts < 1 {
		cfg.DialAttempts = 1
	}

	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}

	var (
		conn *amqp.Connection
		err  error
	)

	for i := range cfg.DialAttempts {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}

		slog.Warn("Failed to connect to RabbitMQ, retrying",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", cfg.DialAttempts),
			slog.Any("error", err))
		time.Sleep(cfg.DialInterval)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := openPublishChannel(conn)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	return &Broker{
		conn:           conn,
		consumerTag:    cfg.ConsumerTag,
		confirmTimeout: cfg.ConfirmTimeout,
		pubCh:          ch,
		declared:       make(map[string]struct{}),
	}, nil
}

// Publish sends msg to the queue named by msg.Destination through the default exchange
// and returns only after the broker has confirmed it.
func (b *Broker) Publish(ctx context.Context, msg *messaging.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.publishChannelLocked()
	if err != nil {
		return err
	}

	if err := b.declareLocked(ch, msg.Destination); err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",              // exchange
		msg.Destination, // routing key
		false,           // mandatory
		false,           // immediate
		toPublishing(msg))
	if err != nil {
		return fmt.Errorf("failed to publish message %s to %s: %w", msg.ID, msg.Destination, err)
	}

	if confirm == nil {
		return fmt.Errorf("failed to publish message %s to %s: %w", msg.ID, msg.Destination, ErrConfirmModeUnavailable)
	}

	if err := waitConfirm(ctx, confirm, b.confirmTimeout); err != nil {
		return fmt.Errorf("failed to publish message %s to %s: %w", msg.ID, msg.Destination, err)
	}

	return nil
}

// publishChannelLocked must be called with b.mu held.
func (b *Broker) publishChannelLocked() (*amqp.Channel, error) {
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}

	slog.Warn("Publish channel is closed, reopening")

	ch, err := openPublishChannel(b.conn)
	if err != nil {
		b.pubCh = nil

		return nil, err
	}

	b.pubCh = ch
	// Topology declared through the dead channel may not have completed.
	b.declared = make(map[string]struct{})

	return ch, nil
}

func openPublishChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	return ch, nil
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func waitConfirm(ctx context.Context, c confirmation, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acked, err := c.WaitContext(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrConfirmTimeout, timeout)
		}

		return err
	}

	if !acked {
		return ErrPublishNacked
	}

	return nil
}

// Consume registers a manual-ack consumer on queue with the given prefetch.
func (b *Broker) Consume(ctx context.Context, queue string, prefetch int) (<-chan messaging.Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	b.mu.Lock()
	err = b.declareLocked(ch, queue)
	b.mu.Unlock()

	if err != nil {
		_ = ch.Close()

		return nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}

	tag := b.consumerTag + "." + queue

	msgs, err := ch.Consume(
		queue, // queue
		tag,   // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("failed to register a consumer on %s: %w", queue, err)
	}

	out := make(chan messaging.Delivery, prefetch)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				// Stop new deliveries; the channel stays open so in-flight ones can still settle.
				if err := ch.Cancel(tag, false); err != nil {
					slog.Warn("Failed to cancel consumer", slog.String("queue", queue), slog.Any("error", err))
				}

				return
			case d, ok := <-msgs:
				if !ok {
					return
				}

				select {
				case out <- &delivery{broker: b, queue: queue, d: d, msg: fromDelivery(queue, d)}:
				case <-ctx.Done():
					_ = d.Nack(false, true)
				}
			}
		}
	}()

	return out, nil
}

// declareLocked must be called with b.mu held.
func (b *Broker) declareLocked(ch *amqp.Channel, queue string) error {
	if _, ok := b.declared[queue]; ok {
		return nil
	}

	if err := declareTopology(ch, queue); err != nil {
		return err
	}

	b.declared[queue] = struct{}{}

	return nil
}

func declareTopology(ch *amqp.Channel, queue string) error {
	exchange := queue + exchangeSuffix
	dlq := DeadLetterQueue(queue)

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", dlq, err)
	}

	if err := ch.QueueBind(dlq, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s to %s: %w", dlq, exchange, err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, queueArgs(queue)); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return nil
}

// Ping reports whether the connection is open.
func (b *Broker) Ping(context.Context) error {
	if b.conn.IsClosed() {
		return amqp.ErrClosed
	}

	return nil
}

// Close closes the connection and every channel opened on it.
func (b *Broker) Close() error {
	return b.conn.Close()
}

// DeadLetterQueue returns the queue rejected messages of queue are routed to.
func DeadLetterQueue(queue string) string {
	return queue + deadLetterSuffix
}

func queueArgs(queue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    queue + exchangeSuffix,
		"x-dead-letter-routing-key": queue,
	}
}

func toPublishing(msg *messaging.Message) amqp.Publishing {
	headers := amqp.Table{headerAttempt: int32(msg.Attempt)}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	return amqp.Publishing{
		MessageId:     msg.ID,
		CorrelationId: msg.CorrelationID,
		Type:          msg.Type,
		ContentType:   contentType,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		Headers:       headers,
		Body:          msg.Body,
	}
}

func fromDelivery(queue string, d amqp.Delivery) *messaging.Message {
	msg := &messaging.Message{
		ID:            d.MessageId,
		CorrelationID: d.CorrelationId,
		Type:          d.Type,
		Destination:   queue,
		Body:          d.Body,
	}

	for k, v := range d.Headers {
		if k == headerAttempt {
			msg.Attempt = attemptOf(v)

			continue
		}

		if s, ok := v.(string); ok {
			msg.SetHeader(k, s)
		}
	}

	return msg
}

func attemptOf(v interface{}) int {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case string:
		attempt, _ := strconv.Atoi(n)

		return attempt
	default:
		return 0
	}
}

type delivery struct {
	broker *Broker
	queue  string
	d      amqp.Delivery
	msg    *messaging.Message
}

func (d *delivery) Message() *messaging.Message { return d.msg }

func (d *delivery) Ack(context.Context) error {
	return d.d.Ack(false)
}

func (d *delivery) Requeue(ctx context.Context) error {
	c := d.msg.Clone()
	c.Attempt++
	c.Destination = d.queue

	if err := d.broker.Publish(ctx, c); err != nil {
		return err
	}

	return d.d.Ack(false)
}

func (d *delivery) Reject(_ context.Context, reason string) error {
	slog.Warn("Dead-lettering message",
		slog.String("queue", d.queue),
		slog.String("message_id", d.msg.ID),
		slog.String("reason", reason))

	return d.d.Nack(false, false)
}
