// Package matcher runs the background reservation scan: on a fixed interval
// it loads all pending limit orders, checks each trigger against a fresh
// quote, and settles matured orders through the same ledger path the instant
// handlers use.
package matcher

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vtrade/ledger-engine/internal/ledger"
	"github.com/vtrade/ledger-engine/internal/metrics"
	"github.com/vtrade/ledger-engine/internal/model"
	"github.com/vtrade/ledger-engine/internal/oracle"
	"github.com/vtrade/ledger-engine/internal/store"
)

const (
	// DefaultInterval is the scan period when none is configured.
	DefaultInterval = 10 * time.Second

	// perOrderTimeout bounds one order's quote + settle so a slow oracle
	// call cannot stall the rest of the scan indefinitely.
	perOrderTimeout = 5 * time.Second

	// maxConcurrent bounds how many orders are evaluated at once per tick.
	maxConcurrent = 8
)

// Broadcaster receives settled reservation fills, e.g. a WebSocket hub.
type Broadcaster interface {
	BroadcastTrade(trade model.TradeRecord)
}

// Matcher is the background reservation-order scanner. Dependencies are
// injected so tests can drive single ticks against fakes.
type Matcher struct {
	store    store.Store
	oracle   oracle.PriceOracle
	ledger   *ledger.Ledger
	interval time.Duration
	hub      Broadcaster // optional
}

// New creates a Matcher. interval ≤ 0 selects DefaultInterval; hub may be nil.
func New(st store.Store, po oracle.PriceOracle, lg *ledger.Ledger, interval time.Duration, hub Broadcaster) *Matcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Matcher{
		store:    st,
		oracle:   po,
		ledger:   lg,
		interval: interval,
		hub:      hub,
	}
}

// Run scans on the configured interval until ctx is cancelled. It always
// returns nil on cancellation; tick-level failures are logged and retried.
func (m *Matcher) Run(ctx context.Context) error {
	slog.Info("reservation matcher started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reservation matcher stopped")
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one full scan of pending orders. Exported so tests can
// trigger scans deterministically instead of waiting on wall-clock time.
// Every order is evaluated independently: an oracle failure, store failure,
// or execution rejection on one order never aborts the rest of the scan.
func (m *Matcher) Tick(ctx context.Context) {
	metrics.MatcherTicks.Inc()

	orders, err := m.store.ListPendingOrders(ctx)
	if err != nil {
		slog.Error("matcher: listing pending orders failed", "err", err)
		return
	}
	metrics.PendingOrders.Set(float64(len(orders)))
	if len(orders) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, order := range orders {
		g.Go(func() error {
			m.evaluate(gctx, order)
			return nil // per-order failures are isolated, never fatal to the tick
		})
	}
	_ = g.Wait()
}

// evaluate checks one order's trigger and settles it when matured. The order
// is left pending on any failure and retried next tick.
func (m *Matcher) evaluate(ctx context.Context, order model.ReservationOrder) {
	ctx, cancel := context.WithTimeout(ctx, perOrderTimeout)
	defer cancel()

	price, err := m.oracle.CurrentPrice(ctx, order.Ticker)
	if err != nil {
		metrics.OracleFailures.Inc()
		slog.Warn("matcher: quote failed, retrying next tick",
			"order", order.ID, "ticker", order.Ticker, "err", err)
		return
	}

	if !order.Triggered(price) {
		return
	}

	trade, err := m.ledger.FillReservation(ctx, order, price)
	switch {
	case err == nil:
		metrics.MatcherFills.WithLabelValues(order.Side).Inc()
		slog.Info("reservation order filled",
			"order", order.ID,
			"account", order.AccountID,
			"ticker", order.Ticker,
			"side", order.Side,
			"limit", order.LimitPrice.String(),
			"price", price.String(),
			"amount", trade.Amount.String(),
		)
		if m.hub != nil {
			m.hub.BroadcastTrade(*trade)
		}
	case model.IsRejection(err):
		// Not yet eligible (balance drifted, or a cancel won the race).
		// The order stays as it is; a still-pending order retries next tick.
		slog.Info("matcher: order not eligible", "order", order.ID, "reason", err)
	default:
		slog.Warn("matcher: settle failed, retrying next tick", "order", order.ID, "err", err)
	}
}
