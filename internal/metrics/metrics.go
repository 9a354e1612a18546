// Package metrics exposes process counters in the Prometheus format.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	sessionsActive  *prometheus.GaugeVec
	sessionsTotal   *prometheus.CounterVec
	jwtValidations  *prometheus.CounterVec
	bodyRejections  prometheus.Counter
	backendDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfork_mcp_http_requests_total",
			Help: "HTTP requests handled, by route and status code",
		},
		[]string{"route", "method", "status"},
	)

	m.sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docfork_mcp_sessions_active",
			Help: "Live sessions by transport",
		},
		[]string{"transport"},
	)

	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfork_mcp_sessions_created_total",
			Help: "Sessions created by transport",
		},
		[]string{"transport"},
	)

	m.jwtValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docfork_mcp_jwt_validations_total",
			Help: "Bearer token validations by verification mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	m.bodyRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docfork_mcp_body_too_large_total",
			Help: "Requests rejected for exceeding the body size limit",
		},
	)

	m.backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docfork_mcp_backend_request_duration_seconds",
			Help:    "Docfork API call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op", "status"},
	)

	cs := []prometheus.Collector{
		m.requestsTotal,
		m.sessionsActive,
		m.sessionsTotal,
		m.jwtValidations,
		m.bodyRejections,
		m.backendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// SessionDelta adjusts the active session gauge for transport.
func (m *Metrics) SessionDelta(transport string, delta int) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(transport).Add(float64(delta))
	if delta > 0 {
		m.sessionsTotal.WithLabelValues(transport).Add(float64(delta))
	}
}

// JWTValidation counts a token validation.
func (m *Metrics) JWTValidation(mode, outcome string) {
	if m == nil {
		return
	}
	m.jwtValidations.WithLabelValues(mode, outcome).Inc()
}

// BodyTooLarge counts a rejected oversized body.
func (m *Metrics) BodyTooLarge() {
	if m == nil {
		return
	}
	m.bodyRejections.Inc()
}

// BackendCall records the latency of one Docfork API call. status is 0 when
// no response was received.
func (m *Metrics) BackendCall(op string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(op, strconv.Itoa(status)).Observe(dur.Seconds())
}
