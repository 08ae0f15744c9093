package messaging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const tracerName = "github.com/jnst/order-payment-saga/internal/messaging"

// InjectTraceContext writes the trace context of ctx into the message headers.
func InjectTraceContext(ctx context.Context, msg *Message) {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Headers))
}

// ExtractTraceContext returns ctx carrying the trace context found in the message headers.
func ExtractTraceContext(ctx context.Context, msg *Message) context.Context {
	if len(msg.Headers) == 0 {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
}
