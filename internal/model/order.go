// Package model defines domain models, wire contracts and errors shared by both services.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// MinAmount is the smallest monetary amount accepted for orders and deposits.
	MinAmount = decimal.New(1, -2)
	// MaxAmount is the largest value a NUMERIC(18, 2) amount or balance column holds.
	MaxAmount = decimal.RequireFromString("9999999999999999.99")
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusNew is the state an order is inserted with.
	OrderStatusNew OrderStatus = "NEW"
	// OrderStatusProcessing is entered in the creating transaction, once the payment command is enqueued.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusFinished is entered when the payment succeeded.
	OrderStatusFinished OrderStatus = "FINISHED"
	// OrderStatusCancelled is entered when the payment was declined.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ParseOrderStatus validates and converts a raw status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.IsValid() {
		return "", ErrInvalidStatus
	}

	return status, nil
}

// IsValid reports whether the status is part of the order lifecycle.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusNew, OrderStatusProcessing, OrderStatusFinished, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFinished || s == OrderStatusCancelled
}

// CanTransitionTo reports whether moving from s to next follows the order state machine.
// Re-applying the current status is always allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}

	switch s {
	case OrderStatusNew:
		return next == OrderStatusProcessing
	case OrderStatusProcessing:
		return next == OrderStatusFinished || next == OrderStatusCancelled
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

// Order represents an order entity.
type Order struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"userId"`
	Amount       decimal.Decimal `json:"amount"`
	Description  *string         `json:"description,omitempty"`
	Status       OrderStatus     `json:"status"`
	StatusReason *string         `json:"statusReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CreateOrderParams represents parameters for creating a new order.
type CreateOrderParams struct {
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Description *string         `json:"description,omitempty"`
}

// Validate validates the create order parameters.
func (p *CreateOrderParams) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return ErrInvalidUserID
	}

	return ValidateAmount(p.Amount)
}

// ValidateAmount checks that amount lies within [MinAmount, MaxAmount] and fits two fractional digits.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThan(MinAmount) || amount.GreaterThan(MaxAmount) {
		return ErrInvalidAmount
	}

	if !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount
	}

	return nil
}
