// Package memstore is an in-memory implementation of the repository interfaces.
//
// Transactions are serialized: a transaction holds the store lock until it
// commits or rolls back, and a rollback restores the snapshot taken when it
// began. Calls made outside a transaction run as single-statement transactions.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/repository"
)

// Operation names accepted by InjectFault.
const (
	OpOrderCreate        = "order.create"
	OpOrderUpdateStatus  = "order.update_status"
	OpOrderMarkReconcile = "order.mark_reconciled"
	OpAccountCreate      = "account.create"
	OpAccountUpdate      = "account.update_balance"
	OpOutboxCreate       = "outbox.create"
	OpOutboxListPending  = "outbox.list_pending"
	OpOutboxMarkSent     = "outbox.mark_sent"
	OpInboxCreate        = "inbox.create"
	OpInboxMarkProcessed = "inbox.mark_processed"
	OpInboxRecordError   = "inbox.record_error"
	OpTransactionCommit  = "tx.commit"
)

type txKey struct{}

type state struct {
	orders     map[uuid.UUID]*model.Order
	reconciles map[uuid.UUID]reconcileMark
	accounts   map[string]*model.Account
	outbox     []*model.OutboxMessage
	inbox      map[uuid.UUID]*model.InboxMessage
}

// reconcileMark mirrors the reconciled_at and redrive_count columns of orders.
type reconcileMark struct {
	at       time.Time
	redrives int
}

func newState() *state {
	return &state{
		orders:     make(map[uuid.UUID]*model.Order),
		reconciles: make(map[uuid.UUID]reconcileMark),
		accounts:   make(map[string]*model.Account),
		inbox:      make(map[uuid.UUID]*model.InboxMessage),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, o := range s.orders {
		c.orders[id] = cloneOrder(o)
	}

	for id, m := range s.reconciles {
		c.reconciles[id] = m
	}

	for userID, a := range s.accounts {
		c.accounts[userID] = cloneAccount(a)
	}

	c.outbox = make([]*model.OutboxMessage, len(s.outbox))
	for i, m := range s.outbox {
		c.outbox[i] = cloneOutboxMessage(m)
	}

	for id, m := range s.inbox {
		c.inbox[id] = cloneInboxMessage(m)
	}

	return c
}

// Store holds every table of both services.
type Store struct {
	mu     sync.Mutex
	data   *state
	faults map[string]error
	now    func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data:   newState(),
		faults: make(map[string]error),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

// InjectFault makes every later call of op fail with err. A nil err clears the fault.
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.faults, op)

		return
	}

	s.faults[op] = err
}

// Orders returns the order repository view of the store.
func (s *Store) Orders() repository.OrderRepository { return &orderRepository{s: s} }

// Accounts returns the account repository view of the store.
func (s *Store) Accounts() repository.AccountRepository { return &accountRepository{s: s} }

// Outbox returns the outbox repository view of the store.
func (s *Store) Outbox() repository.OutboxRepository { return &outboxRepository{s: s} }

// Inbox returns the inbox repository view of the store.
func (s *Store) Inbox() repository.InboxRepository { return &inboxRepository{s: s} }

// TransactionManager returns the transaction manager of the store.
func (s *Store) TransactionManager() repository.TransactionManager { return &transactionManager{s: s} }

// OutboxMessages returns a copy of every outbox row in insertion order.
func (s *Store) OutboxMessages() []*model.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.OutboxMessage, len(s.data.outbox))
	for i, m := range s.data.outbox {
		out[i] = cloneOutboxMessage(m)
	}

	return out
}

// InboxMessages returns a copy of every inbox row.
func (s *Store) InboxMessages() []*model.InboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.InboxMessage, 0, len(s.data.inbox))
	for _, m := range s.data.inbox {
		out = append(out, cloneInboxMessage(m))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })

	return out
}

// AllOrders returns a copy of every order.
func (s *Store) AllOrders() []*model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Order, 0, len(s.data.orders))
	for _, o := range s.data.orders {
		out = append(out, cloneOrder(o))
	}

	return out
}

// run executes fn with exclusive access to the data, joining the caller's transaction if any.
func (s *Store) run(ctx context.Context, op string, fn func(data *state, now time.Time) error) error {
	if ctx.Value(txKey{}) != nil {
		if err := s.faults[op]; err != nil {
			return err
		}

		return fn(s.data, s.now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[op]; err != nil {
		return err
	}

	return fn(s.data, s.now())
}

type transactionManager struct {
	s *Store
}

func (tm *transactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s := tm.s

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	committed := false

	defer func() {
		if !committed {
			s.data = snapshot
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		return err
	}

	if err := s.faults[OpTransactionCommit]; err != nil {
		return err
	}

	committed = true

	return nil
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Description = cloneString(o.Description)
	c.StatusReason = cloneString(o.StatusReason)

	return &c
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a

	return &c
}

func cloneOutboxMessage(m *model.OutboxMessage) *model.OutboxMessage {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	c.SentAt = cloneTime(m.SentAt)

	return &c
}

func cloneInboxMessage(m *model.InboxMessage) *model.InboxMessage {
	c := *m
	c.ProcessedAt = cloneTime(m.ProcessedAt)
	c.ProcessingError = cloneString(m.ProcessingError)

	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}

	c := *s

	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
