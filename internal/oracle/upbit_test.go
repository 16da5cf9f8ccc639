package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/model"
)

func TestUpbitOracle_CurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ticker" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("markets"); got != "KRW-BTC" {
			t.Errorf("markets = %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"market":"KRW-BTC","trade_price":52345000.5}]`))
	}))
	defer srv.Close()

	o := NewUpbitOracle(srv.URL)
	price, err := o.CurrentPrice(context.Background(), "KRW-BTC")
	if err != nil {
		t.Fatalf("CurrentPrice: %v", err)
	}
	if !price.Equal(decimal.NewFromFloat(52345000.5)) {
		t.Errorf("price = %s, want 52345000.5", price)
	}
}

func TestUpbitOracle_CurrentPriceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewUpbitOracle(srv.URL)
	_, err := o.CurrentPrice(context.Background(), "KRW-BTC")
	if !errors.Is(err, model.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestUpbitOracle_CurrentPriceEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	o := NewUpbitOracle(srv.URL)
	_, err := o.CurrentPrice(context.Background(), "KRW-XYZ")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpbitOracle_TickersFiltersKRW(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/market/all" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"market":"KRW-BTC"},
			{"market":"BTC-ETH"},
			{"market":"KRW-ETH"},
			{"market":"USDT-XRP"}
		]`))
	}))
	defer srv.Close()

	o := NewUpbitOracle(srv.URL)
	tickers, err := o.Tickers(context.Background())
	if err != nil {
		t.Fatalf("Tickers: %v", err)
	}
	want := []string{"KRW-BTC", "KRW-ETH"}
	if len(tickers) != len(want) {
		t.Fatalf("tickers = %v, want %v", tickers, want)
	}
	for i := range want {
		if tickers[i] != want[i] {
			t.Errorf("tickers[%d] = %s, want %s", i, tickers[i], want[i])
		}
	}
}

func TestUpbitOracle_CandlesOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/candles/minutes/5" {
			t.Errorf("path = %s", r.URL.Path)
		}
		// Upbit order: newest first.
		w.Write([]byte(`[
			{"candle_date_time_utc":"2026-08-28T10:05:00","opening_price":101,"high_price":103,"low_price":100,"trade_price":102,"candle_acc_trade_volume":7.5},
			{"candle_date_time_utc":"2026-08-28T10:00:00","opening_price":100,"high_price":102,"low_price":99,"trade_price":101,"candle_acc_trade_volume":5.25}
		]`))
	}))
	defer srv.Close()

	o := NewUpbitOracle(srv.URL)
	candles, err := o.Candles(context.Background(), "KRW-BTC", "minute5", 2)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if !candles[0].Timestamp.Before(candles[1].Timestamp) {
		t.Error("candles not ordered oldest first")
	}
	if !candles[0].Close.Equal(decimal.NewFromInt(101)) {
		t.Errorf("oldest close = %s, want 101", candles[0].Close)
	}
}

func TestUpbitOracle_CandlesBadInterval(t *testing.T) {
	o := NewUpbitOracle("http://127.0.0.1:0")
	_, err := o.Candles(context.Background(), "KRW-BTC", "hourly", 10)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
