// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades, partitioned by side and origin
	// ("instant" or "reservation").
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vtrade_trades_total",
		Help: "Total number of trades settled",
	}, []string{"side", "origin"})

	// TradeLatency tracks end-to-end execution latency per side.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vtrade_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts execution rejections by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vtrade_trade_rejections_total",
		Help: "Trades rejected by the execution engine",
	}, []string{"reason"})

	// PendingOrders tracks the number of pending reservation orders as of
	// the last matcher scan.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vtrade_pending_orders",
		Help: "Pending reservation orders at the last matcher scan",
	})

	// MatcherTicks counts matcher scan cycles.
	MatcherTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtrade_matcher_ticks_total",
		Help: "Reservation matcher scan cycles",
	})

	// MatcherFills counts reservation orders filled by the matcher.
	MatcherFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vtrade_matcher_fills_total",
		Help: "Reservation orders filled by the matcher",
	}, []string{"side"})

	// OracleFailures counts failed price-oracle calls.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtrade_oracle_failures_total",
		Help: "Price oracle calls that failed or timed out",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vtrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vtrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vtrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
