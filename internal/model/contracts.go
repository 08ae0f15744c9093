package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType tags the serialized payload of an outbox row or broker message.
type MessageType string

const (
	// MessageTypeProcessPaymentCommand tags ProcessPaymentCommand payloads.
	MessageTypeProcessPaymentCommand MessageType = "ProcessPaymentCommand"
	// MessageTypePaymentStatusEvent tags PaymentStatusEvent payloads.
	MessageTypePaymentStatusEvent MessageType = "PaymentStatusEvent"
)

func (t MessageType) String() string {
	return string(t)
}

// Contract is one of the messages exchanged between the services.
// The set is closed: only ProcessPaymentCommand and PaymentStatusEvent implement it.
type Contract interface {
	MessageType() MessageType
	Validate() error
	isContract()
}

// ProcessPaymentCommand asks the payment service to debit the order amount.
type ProcessPaymentCommand struct {
	OrderID uuid.UUID       `json:"orderId"`
	UserID  string          `json:"userId"`
	Amount  decimal.Decimal `json:"amount"`
}

// MessageType implements Contract.
func (ProcessPaymentCommand) MessageType() MessageType { return MessageTypeProcessPaymentCommand }

// Validate implements Contract.
func (c ProcessPaymentCommand) Validate() error {
	if c.OrderID == uuid.Nil || c.UserID == "" || !c.Amount.IsPositive() {
		return fmt.Errorf("%w: %s requires orderId, userId and a positive amount", ErrMalformedPayload, c.MessageType())
	}

	return nil
}

func (ProcessPaymentCommand) isContract() {}

// PaymentStatusEvent reports the terminal outcome of a payment attempt.
type PaymentStatusEvent struct {
	EventID     uuid.UUID `json:"eventId"`
	OrderID     uuid.UUID `json:"orderId"`
	UserID      string    `json:"userId"`
	IsSuccess   bool      `json:"isSuccess"`
	Reason      *string   `json:"reason,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

// MessageType implements Contract.
func (PaymentStatusEvent) MessageType() MessageType { return MessageTypePaymentStatusEvent }

// Validate implements Contract.
func (e PaymentStatusEvent) Validate() error {
	if e.EventID == uuid.Nil || e.OrderID == uuid.Nil {
		return fmt.Errorf("%w: %s requires eventId and orderId", ErrMalformedPayload, e.MessageType())
	}

	return nil
}

func (PaymentStatusEvent) isContract() {}

// EncodeContract serializes c into the payload stored in the outbox.
func EncodeContract(c Contract) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", c.MessageType(), err)
	}

	return payload, nil
}

// DecodeContract deserializes payload according to its type tag.
// It returns ErrUnknownMessageType or ErrMalformedPayload for payloads that can never be delivered.
func DecodeContract(messageType MessageType, payload []byte) (Contract, error) {
	switch messageType {
	case MessageTypeProcessPaymentCommand:
		var cmd ProcessPaymentCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, messageType, err)
		}

		if err := cmd.Validate(); err != nil {
			return nil, err
		}

		return cmd, nil
	case MessageTypePaymentStatusEvent:
		var event PaymentStatusEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, messageType, err)
		}

		if err := event.Validate(); err != nil {
			return nil, err
		}

		return event, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, messageType)
	}
}
