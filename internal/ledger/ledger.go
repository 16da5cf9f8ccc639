// Package ledger glues the pure execution engine to the store: it owns the
// single-price-per-operation rule, the commit path for instant orders and
// reservation fills, and the reservation order lifecycle. The HTTP handlers
// and the background matcher both settle through this package, so a matured
// limit order is executed exactly like a market order.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/engine"
	"github.com/vtrade/ledger-engine/internal/metrics"
	"github.com/vtrade/ledger-engine/internal/model"
	"github.com/vtrade/ledger-engine/internal/oracle"
	"github.com/vtrade/ledger-engine/internal/store"
)

// Ledger executes orders against the store at oracle-quoted prices.
type Ledger struct {
	store  store.Store
	oracle oracle.PriceOracle
}

// New creates a Ledger.
func New(st store.Store, po oracle.PriceOracle) *Ledger {
	return &Ledger{store: st, oracle: po}
}

// quote fetches the settlement price for one logical operation. The price is
// fetched exactly once and used for both validation and settlement.
func (l *Ledger) quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	price, err := l.oracle.CurrentPrice(ctx, ticker)
	if err != nil {
		if errors.Is(err, model.ErrPriceUnavailable) {
			metrics.OracleFailures.Inc()
		}
		return decimal.Zero, err
	}
	return price, nil
}

// ExecuteInstant runs a market order: one price fetch, one atomic commit,
// one trade record. quantity is cash for a buy, coin amount for a sell.
func (l *Ledger) ExecuteInstant(ctx context.Context, accountID, ticker, side string, quantity decimal.Decimal) (*model.TradeRecord, error) {
	price, err := l.quote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return l.settle(ctx, engine.Intent{
		AccountID: accountID,
		Ticker:    ticker,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
	}, "instant", "")
}

// FillReservation settles a matured reservation order at the given price.
// The order's pending status is re-checked and flipped to filled inside the
// same atomic commit as the balance/position/trade mutation.
func (l *Ledger) FillReservation(ctx context.Context, order model.ReservationOrder, price decimal.Decimal) (*model.TradeRecord, error) {
	return l.settle(ctx, engine.Intent{
		AccountID: order.AccountID,
		Ticker:    order.Ticker,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     price,
	}, "reservation", order.ID)
}

// settle commits one intent. When orderID is non-empty the matching
// reservation order transitions to filled in the same commit.
func (l *Ledger) settle(ctx context.Context, in engine.Intent, origin, orderID string) (*model.TradeRecord, error) {
	start := time.Now()
	var trade model.TradeRecord

	err := l.store.WithAccount(ctx, in.AccountID, func(txn *store.AccountTxn) error {
		if orderID != "" {
			// Lost race with a user cancel: the order is no longer fillable.
			if err := txn.FillOrder(orderID); err != nil {
				return err
			}
		}
		out, err := engine.Execute(*txn.Account, txn.Position(in.Ticker), in)
		if err != nil {
			return err
		}
		txn.ApplyOutcome(out)
		trade = out.Trade
		return nil
	})
	if err != nil {
		if model.IsRejection(err) {
			metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(in.Side, origin).Inc()
	metrics.TradeLatency.WithLabelValues(in.Side).Observe(time.Since(start).Seconds())
	return &trade, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, model.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, model.ErrInvalidOrderState):
		return "invalid_order_state"
	default:
		return "other"
	}
}

// CreateReservation persists a new pending limit order after a non-binding
// affordability/holdings pre-check against current state. Settlement
// re-validates at fill time, since balances may drift before the trigger.
func (l *Ledger) CreateReservation(ctx context.Context, accountID, ticker, side string, quantity, limitPrice decimal.Decimal) (*model.ReservationOrder, error) {
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("side %q: %w", side, model.ErrInvalidOrderState)
	}
	if quantity.LessThanOrEqual(decimal.Zero) || limitPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("quantity and limit price must be positive: %w", model.ErrInvalidOrderState)
	}

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if side == model.SideBuy && quantity.GreaterThan(acct.Balance) {
		return nil, fmt.Errorf("reserve %s with balance %s: %w", quantity, acct.Balance, model.ErrInsufficientBalance)
	}
	if side == model.SideSell {
		positions, err := l.store.GetPositions(ctx, accountID)
		if err != nil {
			return nil, err
		}
		held := decimal.Zero
		for _, p := range positions {
			if p.Ticker == ticker {
				held = p.Amount
				break
			}
		}
		if quantity.GreaterThan(held) {
			return nil, fmt.Errorf("reserve %s %s holding %s: %w", quantity, ticker, held, model.ErrInsufficientHoldings)
		}
	}

	order := &model.ReservationOrder{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Ticker:     ticker,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		Status:     model.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelReservation transitions one of the caller's pending orders to
// canceled. Orders owned by other accounts are reported as not found.
func (l *Ledger) CancelReservation(ctx context.Context, accountID, orderID string) (*model.ReservationOrder, error) {
	var canceled model.ReservationOrder
	err := l.store.WithAccount(ctx, accountID, func(txn *store.AccountTxn) error {
		if err := txn.CancelOrder(orderID); err != nil {
			return err
		}
		canceled = *txn.Order(orderID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &canceled, nil
}

// Orders returns all of the account's reservation orders.
func (l *Ledger) Orders(ctx context.Context, accountID string) ([]model.ReservationOrder, error) {
	return l.store.GetOrdersByAccount(ctx, accountID)
}

// History returns the account's trade records, oldest first.
func (l *Ledger) History(ctx context.Context, accountID string) ([]model.TradeRecord, error) {
	return l.store.GetTrades(ctx, accountID)
}

// Summary builds the mark-to-market account snapshot: cash balance plus
// every holding valued at its current quote.
func (l *Ledger) Summary(ctx context.Context, accountID string) (*model.AccountSummary, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := l.store.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	summary := &model.AccountSummary{
		Balance:    acct.Balance,
		Holdings:   make(map[string]model.Holding, len(positions)),
		TotalValue: acct.Balance,
	}
	for _, p := range positions {
		summary.Holdings[p.Ticker] = model.Holding{Amount: p.Amount, AvgPrice: p.AvgPrice}

		price, err := l.quote(ctx, p.Ticker)
		if err != nil {
			return nil, fmt.Errorf("valuing %s: %w", p.Ticker, err)
		}
		summary.TotalValue = summary.TotalValue.Add(p.Amount.Mul(price))
	}
	return summary, nil
}
