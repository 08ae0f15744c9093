package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnst/order-payment-saga/internal/model"
)

type orderRepository struct {
	s *Store
}

func (r *orderRepository) Create(ctx context.Context, params *model.CreateOrderParams) (*model.Order, error) {
	var created *model.Order

	err := r.s.run(ctx, OpOrderCreate, func(data *state, now time.Time) error {
		order := &model.Order{
			ID:          uuid.New(),
			UserID:      params.UserID,
			Amount:      params.Amount,
			Description: cloneString(params.Description),
			Status:      model.OrderStatusNew,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		data.orders[order.ID] = order
		created = cloneOrder(order)

		return nil
	})

	return created, err
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var found *model.Order

	err := r.s.run(ctx, "order.get", func(data *state, _ time.Time) error {
		order, ok := data.orders[id]
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
		}

		found = cloneOrder(order)

		return nil
	})

	return found, err
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string) ([]*model.Order, error) {
	var orders []*model.Order

	err := r.s.run(ctx, "order.list_by_user", func(data *state, _ time.Time) error {
		for _, order := range data.orders {
			if order.UserID == userID {
				orders = append(orders, cloneOrder(order))
			}
		}

		return nil
	})

	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })

	return orders, err
}

func (r *orderRepository) UpdateStatus(
	ctx context.Context, id uuid.UUID, status model.OrderStatus, reason *string,
) (*model.Order, error) {
	var updated *model.Order

	err := r.s.run(ctx, OpOrderUpdateStatus, func(data *state, now time.Time) error {
		order, ok := data.orders[id]
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
		}

		order.Status = status
		order.StatusReason = cloneString(reason)
		order.UpdatedAt = now
		updated = cloneOrder(order)

		return nil
	})

	return updated, err
}

func (r *orderRepository) ListStale(
	ctx context.Context, status model.OrderStatus, before time.Time, maxRedrives, limit int,
) ([]*model.Order, error) {
	type candidate struct {
		order *model.Order
		mark  reconcileMark
		seen  bool
	}

	var candidates []candidate

	err := r.s.run(ctx, "order.list_stale", func(data *state, _ time.Time) error {
		for id, order := range data.orders {
			if order.Status != status || !order.UpdatedAt.Before(before) {
				continue
			}

			mark, seen := data.reconciles[id]
			if seen && (!mark.at.Before(before) || mark.redrives >= maxRedrives) {
				continue
			}

			candidates = append(candidates, candidate{order: cloneOrder(order), mark: mark, seen: seen})
		}

		return nil
	})

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.seen != b.seen {
			return !a.seen
		}

		if a.seen && !a.mark.at.Equal(b.mark.at) {
			return a.mark.at.Before(b.mark.at)
		}

		return a.order.UpdatedAt.Before(b.order.UpdatedAt)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	orders := make([]*model.Order, 0, len(candidates))
	for _, c := range candidates {
		orders = append(orders, c.order)
	}

	return orders, err
}

func (r *orderRepository) MarkReconciled(
	ctx context.Context, id uuid.UUID, at time.Time, redriven bool,
) (int, error) {
	var redrives int

	err := r.s.run(ctx, OpOrderMarkReconcile, func(data *state, _ time.Time) error {
		if _, ok := data.orders[id]; !ok {
			return fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
		}

		mark := data.reconciles[id]
		mark.at = at

		if redriven {
			mark.redrives++
		}

		data.reconciles[id] = mark
		redrives = mark.redrives

		return nil
	})

	return redrives, err
}

type accountRepository struct {
	s *Store
}

func (r *accountRepository) Create(ctx context.Context, userID string) (*model.Account, error) {
	var created *model.Account

	err := r.s.run(ctx, OpAccountCreate, func(data *state, now time.Time) error {
		if _, ok := data.accounts[userID]; ok {
			return fmt.Errorf("%w: user %s", model.ErrAccountAlreadyExists, userID)
		}

		account := &model.Account{
			ID:        uuid.New(),
			UserID:    userID,
			Balance:   decimal.Zero,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		data.accounts[userID] = account
		created = cloneAccount(account)

		return nil
	})

	return created, err
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID string) (*model.Account, error) {
	var found *model.Account

	err := r.s.run(ctx, "account.get", func(data *state, _ time.Time) error {
		account, ok := data.accounts[userID]
		if !ok {
			return fmt.Errorf("%w: user %s", model.ErrAccountNotFound, userID)
		}

		found = cloneAccount(account)

		return nil
	})

	return found, err
}

func (r *accountRepository) UpdateBalance(
	ctx context.Context, account *model.Account, newBalance decimal.Decimal,
) (*model.Account, error) {
	var updated *model.Account

	err := r.s.run(ctx, OpAccountUpdate, func(data *state, now time.Time) error {
		stored, ok := data.accounts[account.UserID]
		if !ok || stored.ID != account.ID || stored.Version != account.Version {
			return fmt.Errorf("%w: account %s at version %d", model.ErrConcurrencyConflict, account.ID, account.Version)
		}

		if newBalance.IsNegative() {
			return fmt.Errorf("account %s: balance must not be negative", account.ID)
		}

		stored.Balance = newBalance
		stored.Version++
		stored.UpdatedAt = now
		updated = cloneAccount(stored)

		return nil
	})

	return updated, err
}

type outboxRepository struct {
	s *Store
}

func (r *outboxRepository) Create(
	ctx context.Context, params *model.CreateOutboxMessageParams,
) (*model.OutboxMessage, error) {
	var created *model.OutboxMessage

	err := r.s.run(ctx, OpOutboxCreate, func(data *state, now time.Time) error {
		message := &model.OutboxMessage{
			ID:            uuid.New(),
			CorrelationID: params.CorrelationID,
			MessageType:   params.MessageType,
			Payload:       append([]byte(nil), params.Payload...),
			Destination:   params.Destination,
			CreatedAt:     now,
		}
		data.outbox = append(data.outbox, message)
		created = cloneOutboxMessage(message)

		return nil
	})

	return created, err
}

func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var pending []*model.OutboxMessage

	err := r.s.run(ctx, OpOutboxListPending, func(data *state, _ time.Time) error {
		for _, message := range data.outbox {
			if len(pending) == limit {
				break
			}

			if message.IsPending() {
				pending = append(pending, cloneOutboxMessage(message))
			}
		}

		return nil
	})

	return pending, err
}

func (r *outboxRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	return r.s.run(ctx, OpOutboxMarkSent, func(data *state, _ time.Time) error {
		for _, message := range data.outbox {
			if message.ID == id && message.IsPending() {
				t := sentAt
				message.SentAt = &t
			}
		}

		return nil
	})
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64

	err := r.s.run(ctx, "outbox.count_pending", func(data *state, _ time.Time) error {
		for _, message := range data.outbox {
			if message.IsPending() {
				count++
			}
		}

		return nil
	})

	return count, err
}

func (r *outboxRepository) FindByCorrelation(
	ctx context.Context, correlationID uuid.UUID, messageType model.MessageType,
) (*model.OutboxMessage, error) {
	var found *model.OutboxMessage

	err := r.s.run(ctx, "outbox.find_by_correlation", func(data *state, _ time.Time) error {
		for _, message := range data.outbox {
			if message.CorrelationID == correlationID && message.MessageType == messageType {
				found = cloneOutboxMessage(message)

				return nil
			}
		}

		return fmt.Errorf("%w: %s for %s", model.ErrOutboxMessageNotFound, messageType, correlationID)
	})

	return found, err
}

type inboxRepository struct {
	s *Store
}

func (r *inboxRepository) GetForUpdate(ctx context.Context, messageID uuid.UUID) (*model.InboxMessage, error) {
	var found *model.InboxMessage

	err := r.s.run(ctx, "inbox.get", func(data *state, _ time.Time) error {
		message, ok := data.inbox[messageID]
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrInboxMessageNotFound, messageID)
		}

		found = cloneInboxMessage(message)

		return nil
	})

	return found, err
}

func (r *inboxRepository) Create(
	ctx context.Context, messageID uuid.UUID, messageType model.MessageType,
) (*model.InboxMessage, error) {
	var created *model.InboxMessage

	err := r.s.run(ctx, OpInboxCreate, func(data *state, now time.Time) error {
		if _, ok := data.inbox[messageID]; ok {
			return fmt.Errorf("%w: inbox message %s", model.ErrConcurrencyConflict, messageID)
		}

		message := &model.InboxMessage{
			MessageID:   messageID,
			MessageType: messageType,
			ReceivedAt:  now,
		}
		data.inbox[messageID] = message
		created = cloneInboxMessage(message)

		return nil
	})

	return created, err
}

func (r *inboxRepository) MarkProcessed(ctx context.Context, messageID uuid.UUID, processedAt time.Time) error {
	return r.s.run(ctx, OpInboxMarkProcessed, func(data *state, _ time.Time) error {
		message, ok := data.inbox[messageID]
		if !ok || message.IsProcessed() {
			return nil
		}

		t := processedAt
		message.ProcessedAt = &t
		message.ProcessingError = nil

		return nil
	})
}

func (r *inboxRepository) RecordError(
	ctx context.Context, messageID uuid.UUID, messageType model.MessageType, cause string,
) error {
	return r.s.run(ctx, OpInboxRecordError, func(data *state, now time.Time) error {
		truncated := model.TruncateProcessingError(cause)

		message, ok := data.inbox[messageID]
		if !ok {
			data.inbox[messageID] = &model.InboxMessage{
				MessageID:       messageID,
				MessageType:     messageType,
				ReceivedAt:      now,
				ProcessingError: &truncated,
			}

			return nil
		}

		if !message.IsProcessed() {
			message.ProcessingError = &truncated
		}

		return nil
	})
}
