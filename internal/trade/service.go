// Package trade provides the HTTP surface of the engine: registration and
// login, market data, instant orders, reservation orders, and account
// queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vtrade/ledger-engine/internal/auth"
	"github.com/vtrade/ledger-engine/internal/ledger"
	"github.com/vtrade/ledger-engine/internal/model"
	"github.com/vtrade/ledger-engine/internal/oracle"
)

// maxQuoteConcurrency bounds the parallel oracle fan-out in ListTickers.
const maxQuoteConcurrency = 8

// Service handles the HTTP API. Trade execution is serialized per account
// inside the store, so handlers hold no locks of their own.
type Service struct {
	auth   *auth.Service
	ledger *ledger.Ledger
	oracle oracle.PriceOracle
	hub    *WSHub // optional WebSocket hub for fill broadcasts
}

// NewService creates the HTTP service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(au *auth.Service, lg *ledger.Ledger, po oracle.PriceOracle, hub *WSHub) *Service {
	return &Service{auth: au, ledger: lg, oracle: po, hub: hub}
}

// Routes returns the /api/v1 router. Market data and auth endpoints are
// public; everything touching an account requires a bearer token.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", s.Register)
	r.Post("/login", s.Login)
	r.Get("/tickers", s.ListTickers)
	r.Get("/candles/{ticker}", s.GetCandles)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/account", s.GetAccount)
		r.Post("/buy", s.Buy)
		r.Post("/sell", s.Sell)
		r.Post("/orders", s.CreateOrder)
		r.Get("/orders", s.ListOrders)
		r.Delete("/orders/{orderID}", s.CancelOrder)
		r.Get("/history", s.GetHistory)
	})

	return r
}

// --- Request/Response types ---

// CredentialsRequest is the JSON body for register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned from a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// InstantOrderRequest is the JSON body for POST /buy and POST /sell.
// Amount is cash for a buy and coin amount for a sell.
type InstantOrderRequest struct {
	Ticker string          `json:"ticker"`
	Amount decimal.Decimal `json:"amount"`
}

// ReservationRequest is the JSON body for POST /orders. Quantity follows
// the same convention as instant orders: cash for buy, coin for sell.
type ReservationRequest struct {
	Ticker   string          `json:"ticker"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// --- Auth handlers ---

// Register handles POST /api/v1/register
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("account registered", "id", acct.ID, "username", acct.Username)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(acct)
}

// Login handles POST /api/v1/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TokenResponse{AccessToken: token})
}

// --- Market data handlers ---

// ListTickers handles GET /api/v1/tickers
// Returns the tradable tickers with their current prices. Tickers whose
// quote fails are omitted rather than failing the whole response.
func (s *Service) ListTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.oracle.Tickers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var mu sync.Mutex
	prices := make(map[string]decimal.Decimal, len(tickers))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxQuoteConcurrency)
	for _, ticker := range tickers {
		g.Go(func() error {
			price, err := s.oracle.CurrentPrice(ctx, ticker)
			if err != nil {
				return nil
			}
			mu.Lock()
			prices[ticker] = price
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prices)
}

// GetCandles handles GET /api/v1/candles/{ticker}?interval=day&count=30
func (s *Service) GetCandles(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "day"
	}
	count := 30
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, "count must be between 1 and 200", http.StatusBadRequest)
			return
		}
		count = n
	}

	candles, err := s.oracle.Candles(r.Context(), ticker, interval, count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if candles == nil {
		candles = []model.Candle{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(candles)
}

// --- Account handlers ---

// GetAccount handles GET /api/v1/account
// Returns the cash balance, holdings, and the mark-to-market total value.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		writeError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	summary, err := s.ledger.Summary(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// GetHistory handles GET /api/v1/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		writeError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	trades, err := s.ledger.History(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// --- Instant order handlers ---

// Buy handles POST /api/v1/buy
// Executes a market buy: amount is the cash to spend at the current quote.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeInstant(w, r, model.SideBuy)
}

// Sell handles POST /api/v1/sell
// Executes a market sell: amount is the coin quantity to liquidate.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeInstant(w, r, model.SideSell)
}

func (s *Service) executeInstant(w http.ResponseWriter, r *http.Request, side string) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		writeError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	var req InstantOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Ticker == "" {
		writeError(w, "ticker is required", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	trade, err := s.ledger.ExecuteInstant(r.Context(), accountID, req.Ticker, side, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("instant order executed",
		"trade_id", trade.ID,
		"account", accountID,
		"ticker", trade.Ticker,
		"side", side,
		"amount", trade.Amount.String(),
		"price", trade.Price.String(),
	)

	if s.hub != nil {
		s.hub.BroadcastTrade(*trade)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trade)
}

// --- Reservation order handlers ---

// CreateOrder handles POST /api/v1/orders
// Registers a limit order that the background matcher settles once the
// quoted price crosses the limit.
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		writeError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	var req ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Ticker == "" {
		writeError(w, "ticker is required", http.StatusBadRequest)
		return
	}

	order, err := s.ledger.CreateReservation(r.Context(), accountID, req.Ticker, req.Side, req.Quantity, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("reservation order created",
		"order_id", order.ID,
		"account", accountID,
		"ticker", order.Ticker,
		"side", order.Side,
		"quantity", order.Quantity.String(),
		"limit_price", order.LimitPrice.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// ListOrders handles GET /api/v1/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		writeError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	orders, err := s.ledger.Orders(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []model.ReservationOrder{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
// Only the owner's pending orders can be canceled; anything else is
// reported as not found or an invalid state.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		writeError(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	orderID := chi.URLParam(r, "orderID")

	order, err := s.ledger.CancelReservation(r.Context(), accountID, orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("reservation order canceled", "order_id", orderID, "account", accountID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// --- Error mapping ---

// writeDomainError maps the sentinel error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrInsufficientHoldings):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidOrderState),
		errors.Is(err, model.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, model.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrPriceUnavailable):
		status = http.StatusBadGateway
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
