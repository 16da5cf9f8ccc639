package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/model"
)

// Fake is an in-memory PriceOracle for tests: prices are set directly and
// failures can be injected per ticker.
type Fake struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	failing map[string]bool
}

// NewFake creates an empty fake oracle.
func NewFake() *Fake {
	return &Fake{
		prices:  make(map[string]decimal.Decimal),
		failing: make(map[string]bool),
	}
}

// SetPrice sets the quote returned for ticker and clears any injected failure.
func (f *Fake) SetPrice(ticker string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[ticker] = price
	delete(f.failing, ticker)
}

// Fail makes CurrentPrice return model.ErrPriceUnavailable for ticker until
// the next SetPrice.
func (f *Fake) Fail(ticker string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[ticker] = true
}

func (f *Fake) CurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.failing[ticker] {
		return decimal.Zero, fmt.Errorf("injected failure for %s: %w", ticker, model.ErrPriceUnavailable)
	}
	price, ok := f.prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("ticker %s: %w", ticker, model.ErrNotFound)
	}
	return price, nil
}

func (f *Fake) Tickers(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tickers := make([]string, 0, len(f.prices))
	for t := range f.prices {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers, nil
}

func (f *Fake) Candles(_ context.Context, ticker, _ string, _ int) ([]model.Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	price, ok := f.prices[ticker]
	if !ok {
		return nil, fmt.Errorf("ticker %s: %w", ticker, model.ErrNotFound)
	}
	return []model.Candle{{Open: price, High: price, Low: price, Close: price}}, nil
}
