package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jnst/order-payment-saga/internal/db"
	"github.com/jnst/order-payment-saga/internal/model"
)

func textFromPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}

	return pgtype.Text{String: *s, Valid: true}
}

func ptrFromText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}

	s := t.String

	return &s
}

func ptrFromTimestamptz(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}

	t := ts.Time

	return &t
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func toOrder(o db.Order) *model.Order {
	return &model.Order{
		ID:           o.ID,
		UserID:       o.UserID,
		Amount:       o.Amount,
		Description:  ptrFromText(o.Description),
		Status:       model.OrderStatus(o.Status),
		StatusReason: ptrFromText(o.StatusReason),
		CreatedAt:    o.CreatedAt.Time,
		UpdatedAt:    o.UpdatedAt.Time,
	}
}

func toOrders(rows []db.Order) []*model.Order {
	orders := make([]*model.Order, len(rows))
	for i, row := range rows {
		orders[i] = toOrder(row)
	}

	return orders
}

func toAccount(a db.Account) *model.Account {
	return &model.Account{
		ID:        a.ID,
		UserID:    a.UserID,
		Balance:   a.Balance,
		Version:   a.Version,
		CreatedAt: a.CreatedAt.Time,
		UpdatedAt: a.UpdatedAt.Time,
	}
}

func toOutboxMessage(m db.OutboxMessage) *model.OutboxMessage {
	return &model.OutboxMessage{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		MessageType:   model.MessageType(m.MessageType),
		Payload:       []byte(m.Payload),
		Destination:   m.Destination,
		CreatedAt:     m.CreatedAt.Time,
		SentAt:        ptrFromTimestamptz(m.SentAt),
	}
}

func toInboxMessage(m db.InboxMessage) *model.InboxMessage {
	return &model.InboxMessage{
		MessageID:       m.MessageID,
		MessageType:     model.MessageType(m.MessageType),
		ReceivedAt:      m.ReceivedAt.Time,
		ProcessedAt:     ptrFromTimestamptz(m.ProcessedAt),
		ProcessingError: ptrFromText(m.ProcessingError),
	}
}
