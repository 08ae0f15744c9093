package worker

import (
	"context"
	"time"

	"github.com/jnst/order-payment-saga/internal/service"
)

// NewOutboxRelay returns the loop relaying up to batchSize outbox rows per cycle.
func NewOutboxRelay(outbox service.OutboxService, interval time.Duration, batchSize int) *Loop {
	return NewLoop("outbox-relay", interval, func(ctx context.Context) error {
		_, err := outbox.ProcessPendingMessages(ctx, batchSize)

		return err
	})
}

// NewReconciler returns the loop re-publishing payment commands of orders stuck in PROCESSING.
func NewReconciler(reconcile service.ReconcileService, interval, staleAfter time.Duration, batchSize int) *Loop {
	return NewLoop("order-reconciler", interval, func(ctx context.Context) error {
		_, err := reconcile.RedriveStaleOrders(ctx, staleAfter, batchSize)

		return err
	})
}
