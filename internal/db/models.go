package db

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID           uuid.UUID          `json:"id"`
	UserID       string             `json:"user_id"`
	Amount       decimal.Decimal    `json:"amount"`
	Description  pgtype.Text        `json:"description"`
	Status       string             `json:"status"`
	StatusReason pgtype.Text        `json:"status_reason"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
	UpdatedAt    pgtype.Timestamptz `json:"updated_at"`
}

type Account struct {
	ID        uuid.UUID          `json:"id"`
	UserID    string             `json:"user_id"`
	Balance   decimal.Decimal    `json:"balance"`
	Version   int64              `json:"version"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type OutboxMessage struct {
	ID            uuid.UUID          `json:"id"`
	CorrelationID uuid.UUID          `json:"correlation_id"`
	MessageType   string             `json:"message_type"`
	Payload       string             `json:"payload"`
	Destination   string             `json:"destination"`
	CreatedAt     pgtype.Timestamptz `json:"created_at"`
	SentAt        pgtype.Timestamptz `json:"sent_at"`
}

type InboxMessage struct {
	MessageID       uuid.UUID          `json:"message_id"`
	MessageType     string             `json:"message_type"`
	ReceivedAt      pgtype.Timestamptz `json:"received_at"`
	ProcessedAt     pgtype.Timestamptz `json:"processed_at"`
	ProcessingError pgtype.Text        `json:"processing_error"`
}
