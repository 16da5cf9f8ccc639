package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/model"
)

const (
	upbitRestURL     = "https://api.upbit.com"
	upbitHTTPTimeout = 5 * time.Second
)

// UpbitOracle implements PriceOracle against the Upbit public REST API.
// Only KRW-quoted markets are exposed (e.g. "KRW-BTC").
type UpbitOracle struct {
	baseURL string
	client  *http.Client
}

// NewUpbitOracle creates an Upbit-backed oracle. baseURL overrides the
// production endpoint; pass "" for the default.
func NewUpbitOracle(baseURL string) *UpbitOracle {
	if baseURL == "" {
		baseURL = upbitRestURL
	}
	return &UpbitOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: upbitHTTPTimeout},
	}
}

// upbitTicker is the subset of GET /v1/ticker we consume. Prices arrive as
// JSON numbers; json.Number keeps the full precision for decimal parsing.
type upbitTicker struct {
	Market     string      `json:"market"`
	TradePrice json.Number `json:"trade_price"`
}

type upbitMarket struct {
	Market string `json:"market"`
}

// upbitCandle covers both the minute and day candle payloads.
type upbitCandle struct {
	CandleDateTimeUTC string      `json:"candle_date_time_utc"`
	OpeningPrice      json.Number `json:"opening_price"`
	HighPrice         json.Number `json:"high_price"`
	LowPrice          json.Number `json:"low_price"`
	TradePrice        json.Number `json:"trade_price"`
	AccTradeVolume    json.Number `json:"candle_acc_trade_volume"`
}

func (o *UpbitOracle) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var tickers []upbitTicker
	err := o.getJSON(ctx, "/v1/ticker?markets="+url.QueryEscape(ticker), &tickers)
	if err != nil {
		return decimal.Zero, err
	}
	if len(tickers) == 0 {
		return decimal.Zero, fmt.Errorf("ticker %s: %w", ticker, model.ErrNotFound)
	}

	price, err := decimal.NewFromString(tickers[0].TradePrice.String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("bad quote %q for %s: %w",
			tickers[0].TradePrice, ticker, model.ErrPriceUnavailable)
	}
	return price, nil
}

func (o *UpbitOracle) Tickers(ctx context.Context) ([]string, error) {
	var markets []upbitMarket
	if err := o.getJSON(ctx, "/v1/market/all", &markets); err != nil {
		return nil, err
	}

	var tickers []string
	for _, m := range markets {
		if strings.HasPrefix(m.Market, "KRW-") {
			tickers = append(tickers, m.Market)
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

func (o *UpbitOracle) Candles(ctx context.Context, ticker, interval string, count int) ([]model.Candle, error) {
	path, err := candlePath(interval)
	if err != nil {
		return nil, err
	}
	if count <= 0 || count > 200 {
		count = 100
	}

	var raw []upbitCandle
	err = o.getJSON(ctx, fmt.Sprintf("%s?market=%s&count=%d", path, url.QueryEscape(ticker), count), &raw)
	if err != nil {
		return nil, err
	}

	// Upbit returns newest first; callers get oldest first.
	candles := make([]model.Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		c, err := raw[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("candle for %s: %w", ticker, model.ErrPriceUnavailable)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// candlePath maps pyupbit-style interval names onto Upbit REST paths.
func candlePath(interval string) (string, error) {
	switch interval {
	case "", "minute1":
		return "/v1/candles/minutes/1", nil
	case "minute3":
		return "/v1/candles/minutes/3", nil
	case "minute5":
		return "/v1/candles/minutes/5", nil
	case "minute10":
		return "/v1/candles/minutes/10", nil
	case "minute15":
		return "/v1/candles/minutes/15", nil
	case "minute30":
		return "/v1/candles/minutes/30", nil
	case "minute60":
		return "/v1/candles/minutes/60", nil
	case "minute240":
		return "/v1/candles/minutes/240", nil
	case "day":
		return "/v1/candles/days", nil
	case "week":
		return "/v1/candles/weeks", nil
	case "month":
		return "/v1/candles/months", nil
	default:
		return "", fmt.Errorf("interval %q: %w", interval, model.ErrNotFound)
	}
}

func (c upbitCandle) toModel() (model.Candle, error) {
	ts, err := time.Parse("2006-01-02T15:04:05", c.CandleDateTimeUTC)
	if err != nil {
		return model.Candle{}, err
	}

	fields := []json.Number{c.OpeningPrice, c.HighPrice, c.LowPrice, c.TradePrice, c.AccTradeVolume}
	parsed := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		if parsed[i], err = decimal.NewFromString(f.String()); err != nil {
			return model.Candle{}, err
		}
	}

	return model.Candle{
		Timestamp: ts.UTC(),
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}, nil
}

func (o *UpbitOracle) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("upbit %s: %w", path, model.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: upbit status %d", model.ErrPriceUnavailable, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", model.ErrPriceUnavailable, err)
	}
	return nil
}
