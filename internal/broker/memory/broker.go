// Package memory is an in-process broker used by tests and local runs of a single binary.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/jnst/order-payment-saga/internal/messaging"
)

const queueBuffer = 1024

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("memory broker closed")

// Broker keeps one buffered channel per queue and records everything it sees.
type Broker struct {
	mu          sync.Mutex
	queues      map[string]chan *messaging.Message
	published   []*messaging.Message
	deadLetters map[string][]*messaging.Message
	acked       map[string]int
	faults      map[string]error
	closed      bool
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{
		queues:      make(map[string]chan *messaging.Message),
		deadLetters: make(map[string][]*messaging.Message),
		acked:       make(map[string]int),
		faults:      make(map[string]error),
	}
}

// FailPublish makes publishes to destination fail with err. A nil err clears the fault.
func (b *Broker) FailPublish(destination string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.faults, destination)

		return
	}

	b.faults[destination] = err
}

// Publish implements messaging.Publisher.
func (b *Broker) Publish(ctx context.Context, msg *messaging.Message) error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return ErrClosed
	}

	if err := b.faults[msg.Destination]; err != nil {
		b.mu.Unlock()

		return err
	}

	c := msg.Clone()
	b.published = append(b.published, c)
	q := b.queue(msg.Destination)
	b.mu.Unlock()

	select {
	case q <- c.Clone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume implements messaging.Subscriber.
func (b *Broker) Consume(ctx context.Context, queue string, prefetch int) (<-chan messaging.Delivery, error) {
	b.mu.Lock()
	q := b.queue(queue)
	b.mu.Unlock()

	out := make(chan messaging.Delivery, prefetch)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-q:
				d := &delivery{broker: b, queue: queue, msg: msg}

				select {
				case out <- d:
				case <-ctx.Done():
					// Put it back for the next consumer.
					q <- msg

					return
				}
			}
		}
	}()

	return out, nil
}

// Ping implements messaging.Broker.
func (b *Broker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	return nil
}

// Close implements messaging.Broker.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	return nil
}

// Published returns copies of every message published to destination.
func (b *Broker) Published(destination string) []*messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*messaging.Message

	for _, msg := range b.published {
		if msg.Destination == destination {
			out = append(out, msg.Clone())
		}
	}

	return out
}

// DeadLetters returns copies of the messages rejected from queue.
func (b *Broker) DeadLetters(queue string) []*messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*messaging.Message, len(b.deadLetters[queue]))
	for i, msg := range b.deadLetters[queue] {
		out[i] = msg.Clone()
	}

	return out
}

// Acked returns the number of acknowledged deliveries of queue.
func (b *Broker) Acked(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.acked[queue]
}

// Pending returns the number of messages waiting in queue.
func (b *Broker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queue(queue))
}

// queue must be called with b.mu held.
func (b *Broker) queue(name string) chan *messaging.Message {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan *messaging.Message, queueBuffer)
		b.queues[name] = q
	}

	return q
}

type delivery struct {
	broker *Broker
	queue  string
	msg    *messaging.Message
}

func (d *delivery) Message() *messaging.Message { return d.msg }

func (d *delivery) Ack(context.Context) error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()

	d.broker.acked[d.queue]++

	return nil
}

func (d *delivery) Requeue(ctx context.Context) error {
	c := d.msg.Clone()
	c.Attempt++

	d.broker.mu.Lock()
	q := d.broker.queue(d.queue)
	d.broker.mu.Unlock()

	select {
	case q <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *delivery) Reject(_ context.Context, reason string) error {
	c := d.msg.Clone()
	c.SetHeader(messaging.HeaderDeadLetterReason, reason)

	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()

	d.broker.deadLetters[d.queue] = append(d.broker.deadLetters[d.queue], c)

	return nil
}
