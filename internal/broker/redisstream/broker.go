// Package redisstream implements messaging.Broker on Redis Streams consumer groups.
//
// Every queue is a stream. Messages stay pending in the group until acknowledged,
// and a consumer re-reads its own pending entries when it starts again.
package redisstream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/rueidis"

	"github.com/jnst/order-payment-saga/internal/messaging"
)

// Stream entry fields.
const (
	fieldID            = "id"
	fieldType          = "type"
	fieldCorrelationID = "correlation_id"
	fieldAttempt       = "attempt"
	fieldBody          = "body"
	headerPrefix       = "h:"
)

const (
	deadLetterSuffix = ".dlq"
	errorRetryDelay  = 1 * time.Second
)

// Config configures the Redis Streams broker.
type Config struct {
	Addr     string
	Group    string
	Consumer string
	// Block bounds one XREADGROUP wait.
	Block time.Duration
}

// Broker is a messaging.Broker backed by Redis Streams.
type Broker struct {
	client   rueidis.Client
	group    string
	consumer string
	block    time.Duration

	mu     sync.Mutex
	groups map[string]struct{}
}

// New connects to Redis.
func New(cfg Config) (*Broker, error) {
	// Stream reads never go through the client-side cache.
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{cfg.Addr},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. The broker owns the client from then on.
func NewWithClient(client rueidis.Client, cfg Config) *Broker {
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}

	return &Broker{
		client:   client,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		block:    cfg.Block,
		groups:   make(map[string]struct{}),
	}
}

// Publish appends msg to the stream named by msg.Destination.
func (b *Broker) Publish(ctx context.Context, msg *messaging.Message) error {
	return b.xadd(ctx, msg.Destination, msg)
}

func (b *Broker) xadd(ctx context.Context, stream string, msg *messaging.Message) error {
	fields := b.client.B().Xadd().Key(stream).Id("*").FieldValue().
		FieldValue(fieldID, msg.ID).
		FieldValue(fieldType, msg.Type).
		FieldValue(fieldCorrelationID, msg.CorrelationID).
		FieldValue(fieldAttempt, strconv.Itoa(msg.Attempt)).
		FieldValue(fieldBody, string(msg.Body))

	for k, v := range msg.Headers {
		fields = fields.FieldValue(headerPrefix+k, v)
	}

	if err := b.client.Do(ctx, fields.Build()).Error(); err != nil {
		return fmt.Errorf("failed to publish message %s to stream %s: %w", msg.ID, stream, err)
	}

	return nil
}

// Consume reads the stream named queue as this broker's consumer.
func (b *Broker) Consume(ctx context.Context, queue string, prefetch int) (<-chan messaging.Delivery, error) {
	if err := b.ensureGroup(ctx, queue); err != nil {
		return nil, err
	}

	if prefetch < 1 {
		prefetch = 1
	}

	out := make(chan messaging.Delivery, prefetch)

	go func() {
		defer close(out)

		// Entries delivered to this consumer before a restart come first.
		cursor, draining := "0", true

		for ctx.Err() == nil {
			entries, err := b.read(ctx, queue, cursor, prefetch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				slog.Error("Failed to read stream", slog.String("stream", queue), slog.Any("error", err))

				select {
				case <-ctx.Done():
					return
				case <-time.After(errorRetryDelay):
				}

				continue
			}

			if draining && len(entries) == 0 {
				cursor, draining = ">", false

				continue
			}

			for _, entry := range entries {
				if entry.FieldValues == nil {
					// Trimmed from the stream while pending.
					_ = b.ack(ctx, queue, entry.ID)

					continue
				}

				d := &delivery{broker: b, stream: queue, entryID: entry.ID, msg: decode(queue, entry)}

				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}

			if draining {
				cursor = entries[len(entries)-1].ID
			}
		}
	}()

	return out, nil
}

func (b *Broker) read(ctx context.Context, stream, cursor string, count int) ([]rueidis.XRangeEntry, error) {
	cmd := b.client.B().Xreadgroup().Group(b.group, b.consumer).
		Count(int64(count)).
		Block(b.block.Milliseconds()).
		Streams().
		Key(stream).
		Id(cursor).
		Build()

	result, err := b.client.Do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, err
	}

	return result[stream], nil
}

func (b *Broker) ensureGroup(ctx context.Context, stream string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.groups[stream]; ok {
		return nil
	}

	cmd := b.client.B().XgroupCreate().Key(stream).Group(b.group).Id("0").Mkstream().Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", b.group, stream, err)
	}

	b.groups[stream] = struct{}{}

	return nil
}

func (b *Broker) ack(ctx context.Context, stream, entryID string) error {
	cmd := b.client.B().Xack().Key(stream).Group(b.group).Id(entryID).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", entryID, stream, err)
	}

	return nil
}

// Ping checks the connection.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Do(ctx, b.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (b *Broker) Close() error {
	b.client.Close()

	return nil
}

// DeadLetterStream returns the stream rejected messages of queue are moved to.
func DeadLetterStream(queue string) string {
	return queue + deadLetterSuffix
}

func decode(stream string, entry rueidis.XRangeEntry) *messaging.Message {
	fv := entry.FieldValues
	attempt, _ := strconv.Atoi(fv[fieldAttempt])

	msg := &messaging.Message{
		ID:            fv[fieldID],
		CorrelationID: fv[fieldCorrelationID],
		Type:          fv[fieldType],
		Destination:   stream,
		Body:          []byte(fv[fieldBody]),
		Attempt:       attempt,
	}

	for k, v := range fv {
		if strings.HasPrefix(k, headerPrefix) {
			msg.SetHeader(strings.TrimPrefix(k, headerPrefix), v)
		}
	}

	return msg
}

type delivery struct {
	broker  *Broker
	stream  string
	entryID string
	msg     *messaging.Message
}

func (d *delivery) Message() *messaging.Message { return d.msg }

func (d *delivery) Ack(ctx context.Context) error {
	return d.broker.ack(ctx, d.stream, d.entryID)
}

func (d *delivery) Requeue(ctx context.Context) error {
	c := d.msg.Clone()
	c.Attempt++

	if err := d.broker.xadd(ctx, d.stream, c); err != nil {
		return err
	}

	return d.broker.ack(ctx, d.stream, d.entryID)
}

func (d *delivery) Reject(ctx context.Context, reason string) error {
	c := d.msg.Clone()
	c.SetHeader(messaging.HeaderDeadLetterReason, reason)
	c.SetHeader(messaging.HeaderOriginalDestination, d.stream)

	if err := d.broker.xadd(ctx, DeadLetterStream(d.stream), c); err != nil {
		return err
	}

	return d.broker.ack(ctx, d.stream, d.entryID)
}
