package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeContract_ProcessPaymentCommand(t *testing.T) {
	orderID := uuid.New()
	payload, err := EncodeContract(ProcessPaymentCommand{
		OrderID: orderID,
		UserID:  "u1",
		Amount:  decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"orderId"`)
	assert.Contains(t, string(payload), `"userId":"u1"`)

	decoded, err := DecodeContract(MessageTypeProcessPaymentCommand, payload)
	require.NoError(t, err)

	cmd, ok := decoded.(ProcessPaymentCommand)
	require.True(t, ok)
	assert.Equal(t, orderID, cmd.OrderID)
	assert.True(t, cmd.Amount.Equal(decimal.RequireFromString("50")))
}

func TestDecodeContract_PaymentStatusEventKeepsReason(t *testing.T) {
	reason := ReasonInsufficientFunds
	event := PaymentStatusEvent{
		EventID:     uuid.New(),
		OrderID:     uuid.New(),
		UserID:      "u1",
		Reason:      &reason,
		ProcessedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	payload, err := EncodeContract(event)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"isSuccess":false`)

	decoded, err := DecodeContract(MessageTypePaymentStatusEvent, payload)
	require.NoError(t, err)

	got, ok := decoded.(PaymentStatusEvent)
	require.True(t, ok)
	require.NotNil(t, got.Reason)
	assert.Equal(t, reason, *got.Reason)
	assert.True(t, event.ProcessedAt.Equal(got.ProcessedAt))
}

func TestDecodeContract_Poison(t *testing.T) {
	tests := []struct {
		name        string
		messageType MessageType
		payload     string
		wantErr     error
	}{
		{"unknown type", "OrderShipped", `{}`, ErrUnknownMessageType},
		{"not json", MessageTypeProcessPaymentCommand, `{{`, ErrMalformedPayload},
		{"missing order id", MessageTypeProcessPaymentCommand, `{"userId":"u1","amount":"5"}`, ErrMalformedPayload},
		{"zero amount", MessageTypeProcessPaymentCommand, `{"orderId":"` + uuid.NewString() + `","userId":"u1","amount":"0"}`, ErrMalformedPayload},
		{"event without id", MessageTypePaymentStatusEvent, `{"orderId":"` + uuid.NewString() + `"}`, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeContract(tt.messageType, []byte(tt.payload))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, OrderStatusNew.CanTransitionTo(OrderStatusProcessing))
	assert.True(t, OrderStatusProcessing.CanTransitionTo(OrderStatusFinished))
	assert.True(t, OrderStatusProcessing.CanTransitionTo(OrderStatusCancelled))
	assert.True(t, OrderStatusCancelled.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderStatusNew.CanTransitionTo(OrderStatusFinished))
	assert.False(t, OrderStatusFinished.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderStatusCancelled.CanTransitionTo(OrderStatusProcessing))
}

func TestValidateAmount(t *testing.T) {
	require.NoError(t, ValidateAmount(decimal.RequireFromString("0.01")))
	require.NoError(t, ValidateAmount(decimal.RequireFromString("120.50")))
	require.ErrorIs(t, ValidateAmount(decimal.Zero), ErrValidation)
	require.ErrorIs(t, ValidateAmount(decimal.RequireFromString("-3")), ErrInvalidAmount)
	require.ErrorIs(t, ValidateAmount(decimal.RequireFromString("1.005")), ErrInvalidAmount)
	require.NoError(t, ValidateAmount(MaxAmount))
	require.ErrorIs(t, ValidateAmount(MaxAmount.Add(MinAmount)), ErrInvalidAmount)
	require.ErrorIs(t, ValidateAmount(decimal.RequireFromString("1e30")), ErrInvalidAmount)
}

func TestTruncateProcessingError(t *testing.T) {
	long := make([]rune, ProcessingErrorMaxLen+10)
	for i := range long {
		long[i] = 'ж'
	}

	assert.Len(t, []rune(TruncateProcessingError(string(long))), ProcessingErrorMaxLen)
	assert.Equal(t, "boom", TruncateProcessingError("boom"))
}
