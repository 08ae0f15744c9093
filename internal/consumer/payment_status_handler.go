package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/service"
)

// PaymentStatusHandler projects PaymentStatusEvent deliveries onto order status.
type PaymentStatusHandler struct {
	orders service.OrderService
}

// NewPaymentStatusHandler creates a new PaymentStatusHandler.
func NewPaymentStatusHandler(orders service.OrderService) *PaymentStatusHandler {
	return &PaymentStatusHandler{orders: orders}
}

// Handle implements messaging.Handler.
func (h *PaymentStatusHandler) Handle(ctx context.Context, msg *messaging.Message) messaging.Result {
	contract, err := model.DecodeContract(model.MessageType(msg.Type), msg.Body)
	if err != nil {
		return messaging.Reject(err)
	}

	event, ok := contract.(model.PaymentStatusEvent)
	if !ok {
		return messaging.Reject(fmt.Errorf("%w: %s on the payment status queue", model.ErrUnknownMessageType, msg.Type))
	}

	status := model.OrderStatusCancelled
	if event.IsSuccess {
		status = model.OrderStatusFinished
	}

	order, err := h.orders.UpdateStatus(ctx, event.OrderID, status, event.Reason)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			slog.Error("Payment status received for unknown order",
				slog.String("event_id", event.EventID.String()),
				slog.String("order_id", event.OrderID.String()))
		}

		return Classify(err)
	}

	slog.Info("Order status updated",
		slog.String("order_id", order.ID.String()),
		slog.String("status", order.Status.String()),
		slog.String("event_id", event.EventID.String()))

	return messaging.Ack()
}
