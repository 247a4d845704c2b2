// Package metrics exposes Prometheus counters for HTTP traffic and wizard
// operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/portal/internal/wizard"
)

const namespace = "portal"

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	wizardOps      *prometheus.CounterVec
	wizardDuration *prometheus.HistogramVec
	childCreated   *prometheus.CounterVec
	sessions       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		wizardOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "operations_total",
			Help:      "Wizard submit, complete and search operations by outcome.",
		}, []string{"flow", "step", "op", "outcome"}),
		wizardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in the record service per wizard operation.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"flow", "op"}),
		childCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "child_records_created_total",
			Help:      "Child records created by wizard steps.",
		}, []string{"flow", "step"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "sessions_total",
			Help:      "Wizard sessions by flow and how they ended.",
		}, []string{"flow", "event"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.wizardOps,
		m.wizardDuration,
		m.childCreated,
		m.sessions,
	)
	return m
}

// Observe implements wizard.Observer.
func (m *Metrics) Observe(ev wizard.Event) {
	m.wizardOps.WithLabelValues(ev.Flow, string(ev.Step), string(ev.Op), string(ev.Outcome)).Inc()
	m.wizardDuration.WithLabelValues(ev.Flow, string(ev.Op)).Observe(ev.Duration.Seconds())
	if ev.Created > 0 {
		m.childCreated.WithLabelValues(ev.Flow, string(ev.Step)).Add(float64(ev.Created))
	}
}

// SessionEvent counts a session lifecycle event: started, completed, cancelled
// or expired.
func (m *Metrics) SessionEvent(flow, event string) {
	m.sessions.WithLabelValues(flow, event).Inc()
}

// Middleware records every request under its route template so ids do not
// blow up label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
