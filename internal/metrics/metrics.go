// Package metrics provides Prometheus instrumentation for the market core.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WagersTotal counts wagers accepted, partitioned by pricing model.
	WagersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overunder_wagers_total",
		Help: "Total number of wagers accepted",
	}, []string{"pricing"})

	// MarketsCreated counts markets created, partitioned by pricing model.
	MarketsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overunder_markets_created_total",
		Help: "Total number of markets created",
	}, []string{"pricing"})

	// MarketsResolved counts resolutions, partitioned by kind
	// ("outcome" or "no_contest").
	MarketsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overunder_markets_resolved_total",
		Help: "Total number of markets resolved",
	}, []string{"kind"})

	// ClaimsTotal counts successful winning claims.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overunder_claims_total",
		Help: "Total number of successful claims",
	})

	// TreasuryBalance tracks the treasury's withdrawable balance.
	TreasuryBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overunder_treasury_balance",
		Help: "Current withdrawable treasury balance",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overunder_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overunder_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overunder_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// RateLimitRejections counts requests rejected by the rate limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overunder_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	})
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

// Hijack lets WebSocket upgrades pass through the instrumented writer.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}
