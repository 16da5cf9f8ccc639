// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"fmt"

	"github.com/vtrade/ledger-engine/internal/engine"
	"github.com/vtrade/ledger-engine/internal/model"
)

// Store is the persistence interface. The ledger store is the sole authority
// for atomicity: every balance/position/order mutation goes through
// WithAccount, which serializes access per account.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Returns model.ErrAlreadyExists
	// when the username is taken.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by username (login path).
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// --- Transactional ledger mutation ---

	// WithAccount acquires exclusive access to one account's ledger state,
	// loads the current account, positions, and reservation orders into an
	// AccountTxn, and invokes fn. If fn returns nil every staged mutation is
	// committed as one atomic unit; otherwise everything is discarded and
	// fn's error is returned untouched. Cross-account calls do not block
	// each other.
	WithAccount(ctx context.Context, accountID string, fn func(txn *AccountTxn) error) error

	// --- Reads ---

	// GetPositions returns the account's open positions.
	GetPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// GetTrades returns the account's trade history, oldest first.
	GetTrades(ctx context.Context, accountID string) ([]model.TradeRecord, error)

	// CreateOrder persists a new pending reservation order.
	CreateOrder(ctx context.Context, order *model.ReservationOrder) error

	// GetOrdersByAccount returns all of the account's reservation orders.
	GetOrdersByAccount(ctx context.Context, accountID string) ([]model.ReservationOrder, error)

	// ListPendingOrders returns every pending reservation order across all
	// accounts (the matcher's scan set).
	ListPendingOrders(ctx context.Context) ([]model.ReservationOrder, error)
}

// AccountTxn is the mutable view of one account's ledger state handed to
// WithAccount callbacks. Reads reflect the state at lock acquisition;
// mutations are staged and only applied if the callback succeeds.
type AccountTxn struct {
	Account *model.Account

	positions map[string]*model.Position        // ticker → current position
	orders    map[string]*model.ReservationOrder // order ID → order

	removedPositions map[string]bool
	trades           []model.TradeRecord
	statusChanges    map[string]string // order ID → new terminal status
}

// NewAccountTxn builds a transaction view from loaded state. Implementations
// must pass copies; the callback owns everything inside.
func NewAccountTxn(acct *model.Account, positions []model.Position, orders []model.ReservationOrder) *AccountTxn {
	txn := &AccountTxn{
		Account:          acct,
		positions:        make(map[string]*model.Position, len(positions)),
		orders:           make(map[string]*model.ReservationOrder, len(orders)),
		removedPositions: make(map[string]bool),
		statusChanges:    make(map[string]string),
	}
	for i := range positions {
		p := positions[i]
		txn.positions[p.Ticker] = &p
	}
	for i := range orders {
		o := orders[i]
		txn.orders[o.ID] = &o
	}
	return txn
}

// Position returns the account's position in ticker, or nil if none.
func (t *AccountTxn) Position(ticker string) *model.Position {
	return t.positions[ticker]
}

// Order returns the reservation order with the given ID, or nil if the
// account has no such order.
func (t *AccountTxn) Order(id string) *model.ReservationOrder {
	return t.orders[id]
}

// ApplyOutcome stages a successful execution result: the new balance, the
// new or removed position, and the trade record.
func (t *AccountTxn) ApplyOutcome(out *engine.Outcome) {
	*t.Account = out.Account
	ticker := out.Trade.Ticker
	if out.Position == nil {
		delete(t.positions, ticker)
		t.removedPositions[ticker] = true
	} else {
		t.positions[ticker] = out.Position
		delete(t.removedPositions, ticker)
	}
	t.trades = append(t.trades, out.Trade)
}

// FillOrder stages the pending → filled transition. It must be called in the
// same transaction as the ApplyOutcome for the fill.
func (t *AccountTxn) FillOrder(id string) error {
	return t.transition(id, model.OrderStatusFilled)
}

// CancelOrder stages the pending → canceled transition. Canceling an order
// that is already filled or canceled is rejected, not silently ignored.
func (t *AccountTxn) CancelOrder(id string) error {
	return t.transition(id, model.OrderStatusCanceled)
}

func (t *AccountTxn) transition(id, status string) error {
	o, ok := t.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	if !o.IsPending() {
		return fmt.Errorf("order %s is %s: %w", id, o.Status, model.ErrInvalidOrderState)
	}
	o.Status = status
	t.statusChanges[id] = status
	return nil
}
