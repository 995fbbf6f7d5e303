package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/leave-engine/leave"
)

// Metrics holds the server's collectors on a private registry so several
// servers (tests) can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	schedulerAdvanced prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leave_transitions_total",
				Help: "Leave workflow and ledger operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leave_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leave_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		schedulerAdvanced: f.NewCounter(prometheus.CounterOpts{
			Name: "leave_scheduler_advanced_total",
			Help: "Requests moved by the transition scheduler",
		}),
	}
}

// ObserveTransition counts one operation by its outcome.
func (m *Metrics) ObserveTransition(action string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case leave.IsPermissionDenied(err):
		return "denied"
	case leave.IsRetryable(err):
		return "conflict"
	case leave.IsClientError(err), leave.IsNotFound(err):
		return "rejected"
	default:
		return "error"
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records count and duration per route pattern. The chi route
// pattern keeps ids out of the label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
