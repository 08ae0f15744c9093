package messaging

import "context"

// Outcome tells the consumer runtime how to settle a delivery.
type Outcome int

const (
	// OutcomeAck settles the delivery as handled.
	OutcomeAck Outcome = iota
	// OutcomeRetry asks for the delivery to be attempted again.
	OutcomeRetry
	// OutcomeReject sends the delivery to the dead-letter destination.
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Result is what a handler returns for one message.
type Result struct {
	Outcome Outcome
	Err     error
}

// Ack is the result of a handled message.
func Ack() Result { return Result{Outcome: OutcomeAck} }

// Retry is the result of a message that may succeed when attempted again.
func Retry(err error) Result { return Result{Outcome: OutcomeRetry, Err: err} }

// Reject is the result of a message that can never be handled.
func Reject(err error) Result { return Result{Outcome: OutcomeReject, Err: err} }

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg *Message) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) Result

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) Result {
	return f(ctx, msg)
}
