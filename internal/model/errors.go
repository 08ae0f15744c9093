package model

import (
	"errors"
	"fmt"
)

// Error families. Concrete errors wrap one of these so callers can classify
// them with errors.Is without knowing every sentinel.
var (
	// ErrValidation marks bad input that must never be retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing order, account or message.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate or a lost optimistic-concurrency race.
	ErrConflict = errors.New("conflict")
)

var (
	// ErrInvalidUserID is returned when the user identifier is empty.
	ErrInvalidUserID = fmt.Errorf("%w: user id is required", ErrValidation)
	// ErrInvalidAmount is returned when an amount is outside [0.01, MaxAmount] or has more than two fractional digits.
	ErrInvalidAmount = fmt.Errorf(
		"%w: amount must be between 0.01 and 9999999999999999.99 with at most two fractional digits", ErrValidation)
	// ErrBalanceLimit is returned when a deposit would push a balance past MaxAmount.
	ErrBalanceLimit = fmt.Errorf("%w: balance would exceed 9999999999999999.99", ErrValidation)
	// ErrInvalidStatus is returned for an unknown order status.
	ErrInvalidStatus = fmt.Errorf("%w: unknown order status", ErrValidation)
	// ErrMissingMessageID is returned when a command arrives without a usable unique message id.
	ErrMissingMessageID = fmt.Errorf("%w: message id is required", ErrValidation)

	// ErrOrderNotFound is returned when the order does not exist.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrAccountNotFound is returned when no account is registered for the user.
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
	// ErrInboxMessageNotFound is returned when no inbox row exists for a message id.
	ErrInboxMessageNotFound = fmt.Errorf("inbox message %w", ErrNotFound)
	// ErrOutboxMessageNotFound is returned when no outbox row matches the lookup.
	ErrOutboxMessageNotFound = fmt.Errorf("outbox message %w", ErrNotFound)

	// ErrAccountAlreadyExists is returned when the user already owns an account.
	ErrAccountAlreadyExists = fmt.Errorf("%w: account already exists", ErrConflict)
	// ErrConcurrencyConflict is returned when a row changed between read and write.
	// The whole operation may be retried.
	ErrConcurrencyConflict = fmt.Errorf("%w: concurrent modification detected", ErrConflict)

	// ErrUnknownMessageType is returned when a message type tag has no contract.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrMalformedPayload is returned when a payload cannot be decoded into its contract.
	ErrMalformedPayload = errors.New("malformed message payload")
)
