package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingErrorMaxLen bounds the error text stored on an inbox row.
const ProcessingErrorMaxLen = 1000

// OutboxMessage represents a message persisted for reliable delivery.
// A row is pending while SentAt is nil.
type OutboxMessage struct {
	ID            uuid.UUID   `json:"id"`
	CorrelationID uuid.UUID   `json:"correlationId"`
	MessageType   MessageType `json:"messageType"`
	Payload       []byte      `json:"payload"`
	Destination   string      `json:"destination"`
	CreatedAt     time.Time   `json:"createdAt"`
	SentAt        *time.Time  `json:"sentAt"`
}

// IsPending reports whether the row still waits for the relay.
func (m *OutboxMessage) IsPending() bool {
	return m.SentAt == nil
}

// CreateOutboxMessageParams represents parameters for creating a new outbox message.
type CreateOutboxMessageParams struct {
	CorrelationID uuid.UUID
	MessageType   MessageType
	Payload       []byte
	Destination   string
}

// InboxMessage records the handling of one incoming command.
// ProcessedAt is set once the command took effect.
type InboxMessage struct {
	MessageID       uuid.UUID   `json:"messageId"`
	MessageType     MessageType `json:"messageType"`
	ReceivedAt      time.Time   `json:"receivedAt"`
	ProcessedAt     *time.Time  `json:"processedAt"`
	ProcessingError *string     `json:"processingError"`
}

// IsProcessed reports whether the command was already handled.
func (m *InboxMessage) IsProcessed() bool {
	return m.ProcessedAt != nil
}

// TruncateProcessingError shortens msg to ProcessingErrorMaxLen runes.
func TruncateProcessingError(msg string) string {
	runes := []rune(msg)
	if len(runes) <= ProcessingErrorMaxLen {
		return msg
	}

	return string(runes[:ProcessingErrorMaxLen])
}
