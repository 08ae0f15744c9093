package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/repository"
)

// OrderServiceImpl implements OrderService.
type OrderServiceImpl struct {
	orderRepo           repository.OrderRepository
	outboxRepo          repository.OutboxRepository
	transactionMgr      repository.TransactionManager
	paymentCommandQueue string
}

// NewOrderServiceImpl creates a new OrderService implementation.
// Payment commands are addressed to paymentCommandQueue.
func NewOrderServiceImpl(
	orderRepo repository.OrderRepository,
	outboxRepo repository.OutboxRepository,
	transactionMgr repository.TransactionManager,
	paymentCommandQueue string,
) OrderService {
	return &OrderServiceImpl{
		orderRepo:           orderRepo,
		outboxRepo:          outboxRepo,
		transactionMgr:      transactionMgr,
		paymentCommandQueue: paymentCommandQueue,
	}
}

// CreateOrder creates a new order and enqueues its payment command.
func (s *OrderServiceImpl) CreateOrder(ctx context.Context, params *model.CreateOrderParams) (*model.Order, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	normalized := *params
	normalized.UserID = strings.TrimSpace(params.UserID)
	params = &normalized

	var createdOrder *model.Order

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		order, err := s.orderRepo.Create(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		if err := s.enqueuePaymentCommand(ctx, order); err != nil {
			return err
		}

		order, err = s.orderRepo.UpdateStatus(ctx, order.ID, model.OrderStatusProcessing, nil)
		if err != nil {
			return fmt.Errorf("failed to mark order processing: %w", err)
		}

		createdOrder = order

		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Order created",
		slog.String("order_id", createdOrder.ID.String()),
		slog.String("user_id", createdOrder.UserID),
		slog.String("amount", createdOrder.Amount.StringFixed(2)))

	return createdOrder, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderServiceImpl) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// GetOrdersByUser retrieves the orders of a user.
func (s *OrderServiceImpl) GetOrdersByUser(ctx context.Context, userID string) ([]*model.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, model.ErrInvalidUserID
	}

	return s.orderRepo.ListByUser(ctx, userID)
}

// UpdateStatus overwrites the status of an order.
func (s *OrderServiceImpl) UpdateStatus(
	ctx context.Context, id uuid.UUID, status model.OrderStatus, reason *string,
) (*model.Order, error) {
	if !status.IsValid() {
		return nil, model.ErrInvalidStatus
	}

	var updatedOrder *model.Order

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.orderRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if !current.Status.CanTransitionTo(status) {
			slog.Warn("Overwriting order status outside the state machine",
				slog.String("order_id", id.String()),
				slog.String("from", current.Status.String()),
				slog.String("to", status.String()))
		}

		updatedOrder, err = s.orderRepo.UpdateStatus(ctx, id, status, reason)

		return err
	})
	if err != nil {
		return nil, err
	}

	return updatedOrder, nil
}

func (s *OrderServiceImpl) enqueuePaymentCommand(ctx context.Context, order *model.Order) error {
	payload, err := model.EncodeContract(model.ProcessPaymentCommand{
		OrderID: order.ID,
		UserID:  order.UserID,
		Amount:  order.Amount,
	})
	if err != nil {
		return err
	}

	_, err = s.outboxRepo.Create(ctx, &model.CreateOutboxMessageParams{
		CorrelationID: order.ID,
		MessageType:   model.MessageTypeProcessPaymentCommand,
		Payload:       payload,
		Destination:   s.paymentCommandQueue,
	})
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}

	return nil
}
