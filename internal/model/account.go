package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment outcome reasons reported in PaymentStatusEvent.Reason.
const (
	ReasonAccountNotFound   = "account not found"
	ReasonInsufficientFunds = "insufficient funds"
	ReasonAlreadyProcessed  = "already processed"
)

// Account represents a user's payment account.
// Version changes on every mutation and is compared on write.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"-"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Balance is the read model returned by balance queries.
type Balance struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}

// ProcessPaymentParams carries one ProcessPaymentCommand delivery into the account service.
type ProcessPaymentParams struct {
	UserID    string
	Amount    decimal.Decimal
	OrderID   uuid.UUID
	MessageID uuid.UUID
}

// Validate validates the payment parameters.
func (p *ProcessPaymentParams) Validate() error {
	if p.MessageID == uuid.Nil {
		return ErrMissingMessageID
	}

	if p.UserID == "" {
		return ErrInvalidUserID
	}

	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	return nil
}

// PaymentResult is the outcome of a payment attempt.
// A declined payment is a valid result, not an error.
type PaymentResult struct {
	Success          bool
	Reason           *string
	AlreadyProcessed bool
}
