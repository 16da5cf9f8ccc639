package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/vtrade/ledger-engine/internal/model"
)

// Property: for any sequence of random buy/sell intents, a committed outcome
// never leaves the balance or the position amount negative, and rejected
// intents never change state at all.
func TestProperty_BalanceAndHoldingsNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		acct := model.Account{ID: "acct-p", Balance: decimal.NewFromInt(rapid.Int64Range(0, 1_000_000).Draw(t, "start"))}
		var pos *model.Position

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			side := model.SideBuy
			if rapid.Bool().Draw(t, "sell") {
				side = model.SideSell
			}
			in := Intent{
				AccountID: acct.ID,
				Ticker:    "KRW-BTC",
				Side:      side,
				Quantity:  decimal.NewFromInt(rapid.Int64Range(-10, 2_000_000).Draw(t, "qty")),
				Price:     decimal.NewFromInt(rapid.Int64Range(1, 100_000).Draw(t, "price")),
			}

			out, err := Execute(acct, pos, in)
			if err != nil {
				// Rejections must leave the caller's state untouched; we simply
				// do not apply anything.
				continue
			}

			acct = out.Account
			pos = out.Position

			if acct.Balance.IsNegative() {
				t.Fatalf("balance went negative: %s after %s %s @ %s",
					acct.Balance, in.Side, in.Quantity, in.Price)
			}
			if pos != nil && !pos.Amount.IsPositive() {
				t.Fatalf("position exists with non-positive amount %s", pos.Amount)
			}
		}
	})
}

// Property: a sell never changes the average entry price, and a buy moves it
// strictly between the old average and the buy price.
func TestProperty_AveragePriceInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		acct := model.Account{ID: "acct-p", Balance: decimal.NewFromInt(10_000_000)}

		firstPrice := decimal.NewFromInt(rapid.Int64Range(1, 50_000).Draw(t, "p0"))
		out, err := Execute(acct, nil, Intent{
			AccountID: acct.ID, Ticker: "T", Side: model.SideBuy,
			Quantity: decimal.NewFromInt(rapid.Int64Range(1, 1_000_000).Draw(t, "q0")),
			Price:    firstPrice,
		})
		if err != nil {
			t.Skip("initial buy rejected")
		}
		acct, pos := out.Account, out.Position

		if rapid.Bool().Draw(t, "sellNext") {
			sellQty := pos.Amount.Div(decimal.NewFromInt(rapid.Int64Range(2, 10).Draw(t, "frac")))
			out, err := Execute(acct, pos, Intent{
				AccountID: acct.ID, Ticker: "T", Side: model.SideSell,
				Quantity: sellQty,
				Price:    decimal.NewFromInt(rapid.Int64Range(1, 100_000).Draw(t, "sp")),
			})
			if err != nil {
				t.Fatalf("partial sell rejected: %v", err)
			}
			if out.Position == nil || !out.Position.AvgPrice.Equal(pos.AvgPrice) {
				t.Fatalf("sell changed avg price: %+v", out.Position)
			}
			return
		}

		buyPrice := decimal.NewFromInt(rapid.Int64Range(1, 100_000).Draw(t, "p1"))
		out2, err := Execute(acct, pos, Intent{
			AccountID: acct.ID, Ticker: "T", Side: model.SideBuy,
			Quantity: decimal.NewFromInt(rapid.Int64Range(1, 1_000_000).Draw(t, "q1")),
			Price:    buyPrice,
		})
		if err != nil {
			return // affordability rejection is fine
		}

		lo, hi := pos.AvgPrice, buyPrice
		if hi.LessThan(lo) {
			lo, hi = hi, lo
		}
		avg := out2.Position.AvgPrice
		if avg.LessThan(lo) || avg.GreaterThan(hi) {
			t.Fatalf("weighted avg %s outside [%s, %s]", avg, lo, hi)
		}
	})
}
