// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides. Instant orders and reservation orders share the same values.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Reservation order statuses. Pending is the only non-terminal state.
const (
	OrderStatusPending  = "pending"
	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
)

// InitialBalance is the virtual cash granted to every new account.
var InitialBalance = decimal.NewFromInt(1_000_000)

// Account holds a user's identity and cash balance. Balance is mutated only
// through committed execution outcomes and never goes negative.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is an account's holding of one ticker: coin amount plus the
// volume-weighted average entry price. A position exists only while
// amount > 0; it is deleted when the amount reaches zero. AvgPrice is
// recomputed on buys and never changed by sells.
type Position struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"`
}

// TradeRecord is an immutable record of a settled buy or sell.
// Once created, these are never modified or deleted.
type TradeRecord struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Ticker     string          `json:"ticker" db:"ticker"`
	Side       string          `json:"side" db:"side"`     // "buy" or "sell"
	Amount     decimal.Decimal `json:"amount" db:"amount"` // coin amount
	Price      decimal.Decimal `json:"price" db:"price"`   // settlement price
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// ReservationOrder is a standing limit order evaluated by the background
// matcher. Quantity is asymmetric: cash amount for buy orders, coin amount
// for sell orders. Status transitions are monotonic:
// pending → filled | canceled, never reversed.
type ReservationOrder struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Ticker     string          `json:"ticker" db:"ticker"`
	Side       string          `json:"side" db:"side"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price" db:"limit_price"`
	Status     string          `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// IsPending reports whether the order can still be filled or canceled.
func (o *ReservationOrder) IsPending() bool {
	return o.Status == OrderStatusPending
}

// Triggered reports whether the quoted price crosses the order's limit:
// a buy fires at price ≤ limit, a sell at price ≥ limit.
func (o *ReservationOrder) Triggered(price decimal.Decimal) bool {
	if o.Side == SideBuy {
		return price.LessThanOrEqual(o.LimitPrice)
	}
	return price.GreaterThanOrEqual(o.LimitPrice)
}

// Candle is one OHLCV point of market history, as served by the price oracle.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Holding is the position view returned by the account summary endpoint.
type Holding struct {
	Amount   decimal.Decimal `json:"amount"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// AccountSummary is the mark-to-market snapshot of one account: cash balance,
// holdings per ticker, and total value priced at current quotes.
type AccountSummary struct {
	Balance    decimal.Decimal    `json:"balance"`
	Holdings   map[string]Holding `json:"holdings"`
	TotalValue decimal.Decimal    `json:"total_value"`
}
