package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/metrics"
	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/repository"
)

// ReconcileServiceImpl implements ReconcileService.
type ReconcileServiceImpl struct {
	orderRepo  repository.OrderRepository
	outboxRepo repository.OutboxRepository
	publisher  messaging.Publisher
	metrics    *metrics.Metrics
	// maxRedrives caps how often one order's command is re-published.
	maxRedrives int
	now         func() time.Time
}

// NewReconcileServiceImpl creates a new ReconcileService implementation.
func NewReconcileServiceImpl(
	orderRepo repository.OrderRepository,
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	maxRedrives int,
	m *metrics.Metrics,
) ReconcileService {
	return &ReconcileServiceImpl{
		orderRepo:   orderRepo,
		outboxRepo:  outboxRepo,
		publisher:   publisher,
		metrics:     m,
		maxRedrives: maxRedrives,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RedriveStaleOrders re-publishes the original payment command of stale PROCESSING orders.
// Commands still pending in the outbox are left to the relay. Every visited order is marked
// so the next pass reaches orders behind it in the queue.
func (s *ReconcileServiceImpl) RedriveStaleOrders(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	now := s.now()

	orders, err := s.orderRepo.ListStale(ctx, model.OrderStatusProcessing, now.Add(-staleAfter), s.maxRedrives, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	redriven := 0

	for _, order := range orders {
		logger := slog.With(slog.String("order_id", order.ID.String()))

		ok, err := s.redrive(ctx, logger, order)
		if ok {
			redriven++
		}

		if err != nil {
			return redriven, err
		}
	}

	return redriven, nil
}

// redrive reports whether the command was re-published. Publish failures leave the
// order unmarked so it is retried first on the next pass.
func (s *ReconcileServiceImpl) redrive(ctx context.Context, logger *slog.Logger, order *model.Order) (bool, error) {
	command, err := s.outboxRepo.FindByCorrelation(ctx, order.ID, model.MessageTypeProcessPaymentCommand)
	if err != nil {
		if errors.Is(err, model.ErrOutboxMessageNotFound) {
			logger.Error("Stale order has no payment command")

			return false, s.mark(ctx, logger, order, false)
		}

		return false, err
	}

	if command.IsPending() {
		return false, s.mark(ctx, logger, order, false)
	}

	msg, err := BrokerMessage(command)
	if err != nil {
		logger.Error("Stale order has an undeliverable payment command", slog.Any("error", err))

		return false, s.mark(ctx, logger, order, false)
	}

	messaging.InjectTraceContext(ctx, msg)

	if err := s.publisher.Publish(ctx, msg); err != nil {
		logger.Warn("Failed to re-publish payment command", slog.Any("error", err))

		return false, nil
	}

	s.metrics.Redrive()
	logger.Warn("Re-published payment command for stale order",
		slog.String("message_id", msg.ID),
		slog.Time("updated_at", order.UpdatedAt))

	return true, s.mark(ctx, logger, order, true)
}

func (s *ReconcileServiceImpl) mark(ctx context.Context, logger *slog.Logger, order *model.Order, redriven bool) error {
	redrives, err := s.orderRepo.MarkReconciled(ctx, order.ID, s.now(), redriven)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			return nil
		}

		return fmt.Errorf("failed to mark order %s reconciled: %w", order.ID, err)
	}

	if redriven && redrives >= s.maxRedrives {
		logger.Error("Giving up on stale order", slog.Int("max_redrives", s.maxRedrives))
	}

	return nil
}
