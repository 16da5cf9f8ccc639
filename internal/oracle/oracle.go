// Package oracle provides market data: current quotes, the tradable ticker
// set, and OHLCV candle history. The engine treats the oracle as a fallible
// external collaborator — callers must expect model.ErrPriceUnavailable and
// never cache quotes across logical operations.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/model"
)

// PriceOracle is the market-data interface consumed by the trading engine.
type PriceOracle interface {
	// CurrentPrice returns the latest quoted price for a ticker. Failures
	// (timeouts, unknown ticker, upstream errors) are reported as
	// model.ErrPriceUnavailable or model.ErrNotFound.
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)

	// Tickers returns the set of tradable tickers.
	Tickers(ctx context.Context) ([]string, error)

	// Candles returns up to count OHLCV points for a ticker at the given
	// interval (e.g. "minute1", "minute60", "day"), oldest first.
	Candles(ctx context.Context, ticker, interval string, count int) ([]model.Candle, error)
}
