// Package metrics provides Prometheus instrumentation for the backtest service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/backtest-engine/internal/engine"
)

var (
	// RunsTotal counts finished runs by final status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Total number of backtest runs by final status",
	}, []string{"status"})

	// RunDuration tracks wall-clock time per run.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_run_duration_seconds",
		Help:    "Backtest run duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// EventsProcessed counts market events consumed by the engine.
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_events_processed_total",
		Help: "Market events processed across all runs",
	})

	// TradesTotal counts ledger entries by strategy and action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_trades_total",
		Help: "Total number of simulated trades",
	}, []string{"strategy", "action"})

	// AdmissionRejections counts strategy proposals refused by the risk gate.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_admission_rejections_total",
		Help: "Proposals rejected before execution, by reason",
	}, []string{"reason"})

	// CircuitBreakerHalts counts runs stopped early by a breaker.
	CircuitBreakerHalts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_circuit_breaker_halts_total",
		Help: "Runs halted by a circuit breaker",
	}, []string{"breaker"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// ObserveRun records the outcome of a finished run.
func ObserveRun(res *engine.Result, elapsed time.Duration) {
	RunsTotal.WithLabelValues(string(res.Status)).Inc()
	RunDuration.Observe(elapsed.Seconds())
	EventsProcessed.Add(float64(res.EventsProcessed))
	for _, t := range res.Trades {
		TradesTotal.WithLabelValues(t.Strategy, string(t.Action)).Inc()
	}
	for reason, n := range res.Rejections {
		AdmissionRejections.WithLabelValues(reason).Add(float64(n))
	}
	if res.Status == engine.StatusHalted {
		CircuitBreakerHalts.WithLabelValues(res.HaltReason).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// The chi wrapper keeps http.Hijacker and http.Flusher visible, which
		// the WebSocket upgrade needs.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern prefers the matched chi pattern over the raw path so run
// ids do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
