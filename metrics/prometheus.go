// Package metrics exposes engine and HTTP metrics in Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/commission-engine/commission"
)

const namespace = "commission"

// Metrics implements commission.Observer on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns       *prometheus.CounterVec
	syncEmployees  *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	transitions    *prometheus.CounterVec
	recordsChanged *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ commission.Observer = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync invocations by result (ok, partial, locked, error).",
		}, []string{"result"}),
		syncEmployees: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "employees_total",
			Help:      "Per-employee sync outcomes.",
		}, []string{"outcome"}),
		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of a month sync including revenue aggregation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "period",
			Name:      "transitions_total",
			Help:      "Lock and unlock operations that changed at least one record.",
		}, []string{"action"}),
		recordsChanged: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "period",
			Name:      "records_changed",
			Help:      "Records changed by the latest lock or unlock of a month.",
		}, []string{"month", "action"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status class.",
		}, []string{"route", "method", "result"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// =============================================================================
// commission.Observer
// =============================================================================

func (m *Metrics) SyncCompleted(_ commission.Month, result *commission.SyncResult, elapsed time.Duration, err error) {
	m.syncDuration.Observe(elapsed.Seconds())
	m.syncRuns.WithLabelValues(syncResult(err)).Inc()
	if result == nil {
		return
	}
	for _, o := range []commission.Outcome{
		commission.OutcomeSynced,
		commission.OutcomeUnchanged,
		commission.OutcomeSkipped,
		commission.OutcomeFailed,
	} {
		if n := result.Count(o); n > 0 {
			m.syncEmployees.WithLabelValues(string(o)).Add(float64(n))
		}
	}
}

func (m *Metrics) PeriodTransition(action commission.AuditAction, month commission.Month, changed int) {
	m.recordsChanged.WithLabelValues(month.String(), string(action)).Set(float64(changed))
	if changed > 0 {
		m.transitions.WithLabelValues(string(action)).Inc()
	}
}

func syncResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, commission.ErrPartialAggregation):
		return "partial"
	case errors.Is(err, commission.ErrPeriodLocked):
		return "locked"
	default:
		return "error"
	}
}

// =============================================================================
// HTTP
// =============================================================================

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status/100)+"xx").Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
