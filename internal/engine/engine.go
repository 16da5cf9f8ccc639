// Package engine implements the pure order-execution math: given an account's
// balance, its position in one ticker, and an order intent, it computes the
// post-trade balance, position, and trade record — or a typed rejection.
//
// The engine performs no I/O and takes no locks. Both the instant-order
// handlers and the background reservation matcher run their fills through
// Execute, so a reservation fill and a market order are settled by exactly
// the same arithmetic.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/model"
)

// Intent describes one buy or sell to execute. Quantity is the cash amount
// to spend for a buy and the coin amount to dispose for a sell. Price is the
// settlement price, fetched once by the caller before validation so the
// price used to validate is the price used to settle.
type Intent struct {
	AccountID string
	Ticker    string
	Side      string // model.SideBuy or model.SideSell
	Quantity  decimal.Decimal
	Price     decimal.Decimal
}

// Outcome is the result of a successful execution. Position is nil when the
// trade closed the position entirely (or the account never held one and the
// trade was rejected before producing an outcome — callers only see nil here
// after a full sell).
type Outcome struct {
	Account  model.Account
	Position *model.Position
	Trade    model.TradeRecord
}

// Execute applies one intent to the given account and position state.
// pos is nil when the account holds no position in the intent's ticker.
// The inputs are not mutated; the outcome carries fresh copies.
func Execute(acct model.Account, pos *model.Position, in Intent) (*Outcome, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("quantity must be positive: %w", model.ErrInvalidOrderState)
	}
	if in.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("non-positive price %s: %w", in.Price, model.ErrPriceUnavailable)
	}

	switch in.Side {
	case model.SideBuy:
		return executeBuy(acct, pos, in)
	case model.SideSell:
		return executeSell(acct, pos, in)
	default:
		return nil, fmt.Errorf("unknown side %q: %w", in.Side, model.ErrInvalidOrderState)
	}
}

func executeBuy(acct model.Account, pos *model.Position, in Intent) (*Outcome, error) {
	if in.Quantity.GreaterThan(acct.Balance) {
		return nil, fmt.Errorf("buy %s with balance %s: %w",
			in.Quantity, acct.Balance, model.ErrInsufficientBalance)
	}

	coinAmount := in.Quantity.Div(in.Price)
	acct.Balance = acct.Balance.Sub(in.Quantity)

	newPos := &model.Position{
		AccountID: acct.ID,
		Ticker:    in.Ticker,
		Amount:    coinAmount,
		AvgPrice:  in.Price,
	}
	if pos != nil {
		// Volume-weighted average: (oldAmount*oldAvg + cashSpent) / newAmount.
		newAmount := pos.Amount.Add(coinAmount)
		newPos.Amount = newAmount
		newPos.AvgPrice = pos.Amount.Mul(pos.AvgPrice).Add(in.Quantity).Div(newAmount)
	}

	return &Outcome{
		Account:  acct,
		Position: newPos,
		Trade:    newTrade(in, coinAmount),
	}, nil
}

func executeSell(acct model.Account, pos *model.Position, in Intent) (*Outcome, error) {
	if pos == nil || in.Quantity.GreaterThan(pos.Amount) {
		held := decimal.Zero
		if pos != nil {
			held = pos.Amount
		}
		return nil, fmt.Errorf("sell %s %s holding %s: %w",
			in.Quantity, in.Ticker, held, model.ErrInsufficientHoldings)
	}

	proceeds := in.Quantity.Mul(in.Price)
	acct.Balance = acct.Balance.Add(proceeds)

	remaining := pos.Amount.Sub(in.Quantity)
	var newPos *model.Position
	if remaining.IsPositive() {
		// A sell never changes the average entry price.
		newPos = &model.Position{
			AccountID: acct.ID,
			Ticker:    in.Ticker,
			Amount:    remaining,
			AvgPrice:  pos.AvgPrice,
		}
	}

	return &Outcome{
		Account:  acct,
		Position: newPos,
		Trade:    newTrade(in, in.Quantity),
	}, nil
}

func newTrade(in Intent, coinAmount decimal.Decimal) model.TradeRecord {
	return model.TradeRecord{
		ID:         uuid.New().String(),
		AccountID:  in.AccountID,
		Ticker:     in.Ticker,
		Side:       in.Side,
		Amount:     coinAmount,
		Price:      in.Price,
		ExecutedAt: time.Now().UTC(),
	}
}
