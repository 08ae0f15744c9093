package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jnst/order-payment-saga/internal/messaging"
	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/service"
)

// PaymentCommandHandler feeds ProcessPaymentCommand deliveries into the account service.
type PaymentCommandHandler struct {
	accounts service.AccountService
}

// NewPaymentCommandHandler creates a new PaymentCommandHandler.
func NewPaymentCommandHandler(accounts service.AccountService) *PaymentCommandHandler {
	return &PaymentCommandHandler{accounts: accounts}
}

// Handle implements messaging.Handler.
func (h *PaymentCommandHandler) Handle(ctx context.Context, msg *messaging.Message) messaging.Result {
	messageID, err := uuid.Parse(msg.ID)
	if err != nil || messageID == uuid.Nil {
		return messaging.Reject(fmt.Errorf("%w: %q", model.ErrMissingMessageID, msg.ID))
	}

	contract, err := model.DecodeContract(model.MessageType(msg.Type), msg.Body)
	if err != nil {
		return messaging.Reject(err)
	}

	cmd, ok := contract.(model.ProcessPaymentCommand)
	if !ok {
		return messaging.Reject(fmt.Errorf("%w: %s on the payment command queue", model.ErrUnknownMessageType, msg.Type))
	}

	result, err := h.accounts.ProcessPayment(ctx, &model.ProcessPaymentParams{
		UserID:    cmd.UserID,
		Amount:    cmd.Amount,
		OrderID:   cmd.OrderID,
		MessageID: messageID,
	})
	if err != nil {
		return Classify(err)
	}

	slog.Debug("Payment command handled",
		slog.String("message_id", msg.ID),
		slog.Bool("success", result.Success),
		slog.Bool("already_processed", result.AlreadyProcessed))

	return messaging.Ack()
}
