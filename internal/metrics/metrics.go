// Package metrics provides Prometheus instrumentation for the marketplace.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NegotiationsTotal counts resolved negotiations by terminal status.
	NegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmarket_negotiations_total",
		Help: "Total number of resolved negotiations",
	}, []string{"status"})

	// NegotiationRounds tracks how many rounds sessions take to resolve.
	NegotiationRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentmarket_negotiation_rounds",
		Help:    "Rounds per resolved negotiation",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
	})

	// NegotiationLatency tracks wall time from session start to commit.
	NegotiationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentmarket_negotiation_latency_seconds",
		Help:    "Negotiation latency in seconds, policy calls included",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	// PolicyErrors counts policy failures by kind (unavailable, invalid).
	PolicyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmarket_policy_errors_total",
		Help: "Decision policy failures",
	}, []string{"kind"})

	// CommitRejections counts accepts turned into rejections at commit.
	CommitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmarket_commit_rejections_total",
		Help: "Accepted offers rejected by pre-commit checks",
	}, []string{"reason"})

	// LedgerWriteFailures counts failed ledger appends.
	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmarket_ledger_write_failures_total",
		Help: "Ledger appends that failed",
	})

	// TradeVolume tracks cumulative agreed value per item category.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmarket_trade_volume_total",
		Help: "Cumulative agreed trade value",
	}, []string{"category"})

	// SimulationCycles counts completed orchestrator cycles.
	SimulationCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentmarket_simulation_cycles_total",
		Help: "Completed simulation cycles",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentmarket_http_request_duration_seconds",
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

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
