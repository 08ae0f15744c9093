package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/repository"
)

// AccountServiceImpl implements AccountService.
type AccountServiceImpl struct {
	accountRepo      repository.AccountRepository
	inboxRepo        repository.InboxRepository
	outboxRepo       repository.OutboxRepository
	transactionMgr   repository.TransactionManager
	statusEventQueue string
	now              func() time.Time
}

// NewAccountServiceImpl creates a new AccountService implementation.
// Payment outcome events are addressed to statusEventQueue.
func NewAccountServiceImpl(
	accountRepo repository.AccountRepository,
	inboxRepo repository.InboxRepository,
	outboxRepo repository.OutboxRepository,
	transactionMgr repository.TransactionManager,
	statusEventQueue string,
) AccountService {
	return &AccountServiceImpl{
		accountRepo:      accountRepo,
		inboxRepo:        inboxRepo,
		outboxRepo:       outboxRepo,
		transactionMgr:   transactionMgr,
		statusEventQueue: statusEventQueue,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount opens a zero-balance account for a user.
func (s *AccountServiceImpl) CreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, model.ErrInvalidUserID
	}

	account, err := s.accountRepo.Create(ctx, userID)
	if err != nil {
		return nil, err
	}

	slog.Info("Account created", slog.String("user_id", userID))

	return account, nil
}

// Deposit credits amount to the account of a user.
func (s *AccountServiceImpl) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, model.ErrInvalidUserID
	}

	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var updated *model.Account

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		account, err := s.accountRepo.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}

		balance := account.Balance.Add(amount)
		if balance.GreaterThan(model.MaxAmount) {
			return model.ErrBalanceLimit
		}

		updated, err = s.accountRepo.UpdateBalance(ctx, account, balance)

		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Deposit applied",
		slog.String("user_id", userID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("balance", updated.Balance.StringFixed(2)))

	return updated, nil
}

// GetBalance returns the current balance of a user.
func (s *AccountServiceImpl) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	account, err := s.accountRepo.GetByUserID(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}

	return &model.Balance{UserID: account.UserID, Balance: account.Balance}, nil
}

// ProcessPayment handles one ProcessPaymentCommand delivery.
func (s *AccountServiceImpl) ProcessPayment(
	ctx context.Context, params *model.ProcessPaymentParams,
) (*model.PaymentResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	logger := slog.With(
		slog.String("message_id", params.MessageID.String()),
		slog.String("order_id", params.OrderID.String()),
		slog.String("user_id", params.UserID))

	var result *model.PaymentResult

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		processed, err := s.claimInboxMessage(ctx, params.MessageID)
		if err != nil {
			return err
		}

		if processed {
			reason := model.ReasonAlreadyProcessed
			result = &model.PaymentResult{Success: true, Reason: &reason, AlreadyProcessed: true}

			return nil
		}

		result, err = s.debit(ctx, params)
		if err != nil {
			return err
		}

		if err := s.enqueueStatusEvent(ctx, params, result); err != nil {
			return err
		}

		if err := s.inboxRepo.MarkProcessed(ctx, params.MessageID, s.now()); err != nil {
			return fmt.Errorf("failed to mark inbox message processed: %w", err)
		}

		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			s.recordInboxError(ctx, params, err, logger)
		}

		return nil, err
	}

	switch {
	case result.AlreadyProcessed:
		logger.Info("Payment command already processed")
	case result.Success:
		logger.Info("Payment processed", slog.String("amount", params.Amount.StringFixed(2)))
	default:
		logger.Warn("Payment declined", slog.String("reason", *result.Reason))
	}

	return result, nil
}

// claimInboxMessage locks or inserts the inbox row and reports whether it was already processed.
func (s *AccountServiceImpl) claimInboxMessage(ctx context.Context, messageID uuid.UUID) (bool, error) {
	inbox, err := s.inboxRepo.GetForUpdate(ctx, messageID)

	switch {
	case err == nil:
		return inbox.IsProcessed(), nil
	case errors.Is(err, model.ErrInboxMessageNotFound):
		if _, err := s.inboxRepo.Create(ctx, messageID, model.MessageTypeProcessPaymentCommand); err != nil {
			return false, fmt.Errorf("failed to create inbox message: %w", err)
		}

		return false, nil
	default:
		return false, fmt.Errorf("failed to load inbox message: %w", err)
	}
}

func (s *AccountServiceImpl) debit(ctx context.Context, params *model.ProcessPaymentParams) (*model.PaymentResult, error) {
	account, err := s.accountRepo.GetByUserID(ctx, params.UserID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return declined(model.ReasonAccountNotFound), nil
		}

		return nil, err
	}

	if account.Balance.LessThan(params.Amount) {
		return declined(model.ReasonInsufficientFunds), nil
	}

	if _, err := s.accountRepo.UpdateBalance(ctx, account, account.Balance.Sub(params.Amount)); err != nil {
		return nil, err
	}

	return &model.PaymentResult{Success: true}, nil
}

func (s *AccountServiceImpl) enqueueStatusEvent(
	ctx context.Context, params *model.ProcessPaymentParams, result *model.PaymentResult,
) error {
	payload, err := model.EncodeContract(model.PaymentStatusEvent{
		EventID:     uuid.New(),
		OrderID:     params.OrderID,
		UserID:      params.UserID,
		IsSuccess:   result.Success,
		Reason:      result.Reason,
		ProcessedAt: s.now(),
	})
	if err != nil {
		return err
	}

	_, err = s.outboxRepo.Create(ctx, &model.CreateOutboxMessageParams{
		CorrelationID: params.OrderID,
		MessageType:   model.MessageTypePaymentStatusEvent,
		Payload:       payload,
		Destination:   s.statusEventQueue,
	})
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}

	return nil
}

// recordInboxError stores the failure in its own transaction. It never fails the caller.
func (s *AccountServiceImpl) recordInboxError(
	ctx context.Context, params *model.ProcessPaymentParams, cause error, logger *slog.Logger,
) {
	ctx = context.WithoutCancel(ctx)

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		return s.inboxRepo.RecordError(ctx, params.MessageID, model.MessageTypeProcessPaymentCommand, cause.Error())
	})
	if err != nil {
		logger.Error("Failed to record inbox processing error",
			slog.Any("cause", cause),
			slog.Any("error", err))

		return
	}

	logger.Error("Payment processing failed", slog.Any("error", cause))
}

func declined(reason string) *model.PaymentResult {
	return &model.PaymentResult{Success: false, Reason: &reason}
}
