package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/auth"
	"github.com/vtrade/ledger-engine/internal/ledger"
	"github.com/vtrade/ledger-engine/internal/model"
	"github.com/vtrade/ledger-engine/internal/oracle"
	"github.com/vtrade/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.MemoryStore, *oracle.Fake, string) {
	t.Helper()
	ms := store.NewMemoryStore()
	fo := oracle.NewFake()
	l := ledger.New(ms, fo)

	acct, err := auth.NewService(ms, 0).Register(context.Background(), "trader", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return l, ms, fo, acct.ID
}

func TestExecuteInstant_BuySettlesAtQuotedPrice(t *testing.T) {
	l, ms, fo, acctID := newTestLedger(t)
	ctx := context.Background()
	fo.SetPrice("KRW-BTC", d(50_000))

	trade, err := l.ExecuteInstant(ctx, acctID, "KRW-BTC", model.SideBuy, d(100_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !trade.Amount.Equal(d(2)) || !trade.Price.Equal(d(50_000)) {
		t.Errorf("trade = %+v, want 2.0 @ 50000", trade)
	}

	acct, _ := ms.GetAccount(ctx, acctID)
	if !acct.Balance.Equal(d(900_000)) {
		t.Errorf("balance = %s, want 900000", acct.Balance)
	}
}

func TestExecuteInstant_PriceUnavailableLeavesNoTrace(t *testing.T) {
	l, ms, fo, acctID := newTestLedger(t)
	ctx := context.Background()
	fo.Fail("KRW-BTC")

	_, err := l.ExecuteInstant(ctx, acctID, "KRW-BTC", model.SideBuy, d(1000))
	if !errors.Is(err, model.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}

	acct, _ := ms.GetAccount(ctx, acctID)
	if !acct.Balance.Equal(model.InitialBalance) {
		t.Errorf("balance = %s, oracle failure must not touch the ledger", acct.Balance)
	}
	trades, _ := ms.GetTrades(ctx, acctID)
	if len(trades) != 0 {
		t.Errorf("trades = %+v, want none", trades)
	}
}

func TestCreateReservation_PreChecks(t *testing.T) {
	l, _, fo, acctID := newTestLedger(t)
	ctx := context.Background()
	fo.SetPrice("KRW-BTC", d(50_000))

	// Buy pre-check: cash quantity beyond balance is rejected up front.
	_, err := l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideBuy, d(2_000_000), d(40_000))
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}

	// Sell pre-check: nothing held yet.
	_, err = l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideSell, d(1), d(60_000))
	if !errors.Is(err, model.ErrInsufficientHoldings) {
		t.Errorf("err = %v, want ErrInsufficientHoldings", err)
	}

	// Affordable buy goes pending.
	order, err := l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideBuy, d(100_000), d(40_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Status != model.OrderStatusPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
}

func TestCreateReservation_RejectsBadInput(t *testing.T) {
	l, _, _, acctID := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.CreateReservation(ctx, acctID, "KRW-BTC", "short", d(1), d(1)); !errors.Is(err, model.ErrInvalidOrderState) {
		t.Errorf("bad side err = %v", err)
	}
	if _, err := l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideBuy, d(0), d(1)); !errors.Is(err, model.ErrInvalidOrderState) {
		t.Errorf("zero quantity err = %v", err)
	}
	if _, err := l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideBuy, d(1), d(-5)); !errors.Is(err, model.ErrInvalidOrderState) {
		t.Errorf("negative price err = %v", err)
	}
}

func TestFillReservation_AtomicWithStatusFlip(t *testing.T) {
	l, ms, fo, acctID := newTestLedger(t)
	ctx := context.Background()
	fo.SetPrice("KRW-BTC", d(50_000))

	order, err := l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideBuy, d(100_000), d(100_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	trade, err := l.FillReservation(ctx, *order, d(95_000))
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if !trade.Price.Equal(d(95_000)) {
		t.Errorf("settled at %s, want the quoted 95000, not the limit", trade.Price)
	}

	orders, _ := ms.GetOrdersByAccount(ctx, acctID)
	if orders[0].Status != model.OrderStatusFilled {
		t.Errorf("status = %s, want filled", orders[0].Status)
	}

	// A second fill attempt must be rejected by the status guard.
	if _, err := l.FillReservation(ctx, *order, d(95_000)); !errors.Is(err, model.ErrInvalidOrderState) {
		t.Fatalf("double fill err = %v, want ErrInvalidOrderState", err)
	}
}

func TestFillReservation_RejectionLeavesOrderPending(t *testing.T) {
	l, ms, fo, acctID := newTestLedger(t)
	ctx := context.Background()
	fo.SetPrice("KRW-BTC", d(50_000))

	order, err := l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideBuy, d(900_000), d(100_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Drain the balance with an instant buy so the fill re-validation fails.
	fo.SetPrice("KRW-ETH", d(1000))
	if _, err := l.ExecuteInstant(ctx, acctID, "KRW-ETH", model.SideBuy, d(500_000)); err != nil {
		t.Fatalf("drain: %v", err)
	}

	_, err = l.FillReservation(ctx, *order, d(95_000))
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// The order stays pending for the next tick — never dropped or canceled.
	orders, _ := ms.GetOrdersByAccount(ctx, acctID)
	if orders[0].Status != model.OrderStatusPending {
		t.Errorf("status = %s, want pending after failed re-validation", orders[0].Status)
	}
}

func TestCancelReservation(t *testing.T) {
	l, _, fo, acctID := newTestLedger(t)
	ctx := context.Background()
	fo.SetPrice("KRW-BTC", d(50_000))

	order, err := l.CreateReservation(ctx, acctID, "KRW-BTC", model.SideBuy, d(10_000), d(40_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	canceled, err := l.CancelReservation(ctx, acctID, order.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != model.OrderStatusCanceled {
		t.Errorf("status = %s, want canceled", canceled.Status)
	}

	// Retrying is a rejection, not a silent no-op.
	if _, err := l.CancelReservation(ctx, acctID, order.ID); !errors.Is(err, model.ErrInvalidOrderState) {
		t.Fatalf("second cancel err = %v, want ErrInvalidOrderState", err)
	}
}

func TestSummary_MarkToMarket(t *testing.T) {
	l, _, fo, acctID := newTestLedger(t)
	ctx := context.Background()
	fo.SetPrice("KRW-BTC", d(50_000))

	if _, err := l.ExecuteInstant(ctx, acctID, "KRW-BTC", model.SideBuy, d(100_000)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Price doubles; total value = 900,000 cash + 2.0 * 100,000.
	fo.SetPrice("KRW-BTC", d(100_000))
	summary, err := l.Summary(ctx, acctID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Balance.Equal(d(900_000)) {
		t.Errorf("balance = %s", summary.Balance)
	}
	if !summary.TotalValue.Equal(d(1_100_000)) {
		t.Errorf("total = %s, want 1100000", summary.TotalValue)
	}
	h := summary.Holdings["KRW-BTC"]
	if !h.Amount.Equal(d(2)) || !h.AvgPrice.Equal(d(50_000)) {
		t.Errorf("holding = %+v", h)
	}
}
