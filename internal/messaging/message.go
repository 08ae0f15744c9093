// Package messaging defines the transport-agnostic message envelope and the
// consumer runtime shared by every broker implementation.
package messaging

import (
	"context"
	"errors"
)

// Header keys set on every published message.
const (
	HeaderMessageType         = "message-type"
	HeaderCorrelationID       = "correlation-id"
	HeaderDeadLetterReason    = "x-dead-letter-reason"
	HeaderOriginalDestination = "x-original-destination"
)

// ErrDeliveriesClosed is returned when a broker stops delivering before the consumer was asked to stop.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Message is the unit exchanged through a broker.
type Message struct {
	// ID is the unique message id used for deduplication by consumers.
	ID            string
	CorrelationID string
	Type          string
	Destination   string
	Body          []byte
	Headers       map[string]string
	// Attempt counts how many times the message was re-enqueued after failing.
	Attempt int
}

// Header returns the value of a header, or an empty string.
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}

	return m.Headers[key]
}

// SetHeader sets a header, allocating the map on first use.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}

	m.Headers[key] = value
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.Body = append([]byte(nil), m.Body...)

	c.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		c.Headers[k] = v
	}

	return &c
}

// Publisher sends a message to msg.Destination.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Delivery is one received message awaiting settlement. Exactly one of the
// settlement methods must be called.
type Delivery interface {
	Message() *Message
	// Ack removes the message from the queue.
	Ack(ctx context.Context) error
	// Requeue enqueues a copy with Attempt incremented and acknowledges the original.
	Requeue(ctx context.Context) error
	// Reject moves the message to the dead-letter destination of its queue.
	Reject(ctx context.Context, reason string) error
}

// Subscriber delivers messages of one queue until ctx is done, then closes the channel.
type Subscriber interface {
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
}

// Broker is a Publisher and Subscriber owning a connection.
type Broker interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}
