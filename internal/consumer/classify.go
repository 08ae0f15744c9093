// Package consumer implements the message handlers of both services.
package consumer

import (
	"errors"

	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/model"
)

// Classify maps a handler error to the settlement of its delivery.
// Bad input and missing entities are rejected; conflicts and infrastructure failures are retried.
func Classify(err error) messaging.Result {
	switch {
	case err == nil:
		return messaging.Ack()
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrMalformedPayload),
		errors.Is(err, model.ErrUnknownMessageType),
		errors.Is(err, model.ErrNotFound):
		return messaging.Reject(err)
	default:
		return messaging.Retry(err)
	}
}
