// Package metrics holds the dashboard's Prometheus collectors.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Link outcomes.
const (
	LinkPersisted     = "persisted"
	LinkLocalOnly     = "local_only"
	LinkAlreadyLinked = "already_linked"
)

// Fetch sources.
const (
	FetchLive     = "live"
	FetchFallback = "fallback"
)

// Metrics is a set of collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	linkOutcomes  *prometheus.CounterVec
	fetchOutcomes *prometheus.CounterVec
	circuitState  prometheus.Gauge
	walletEvents  *prometheus.CounterVec
}

// New creates and registers the collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallet_dashboard"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
		linkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "linkage",
			Name:      "links_total",
			Help:      "Wallet link attempts by outcome.",
		}, []string{"outcome"}),
		fetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "fetches_total",
			Help:      "Market data fetches by feed and source.",
		}, []string{"feed", "source"}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "circuit_state",
			Help:      "Identity backend circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		walletEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "events_total",
			Help:      "Wallet session events.",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.linkOutcomes,
		m.fetchOutcomes,
		m.circuitState,
		m.walletEvents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() {
	if m != nil {
		m.httpInFlight.Inc()
	}
}

func (m *Metrics) DecrementInFlight() {
	if m != nil {
		m.httpInFlight.Dec()
	}
}

// RecordHTTPRequest records one handled request. path should be a route
// template, not the raw URL.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLink counts a wallet link outcome.
func (m *Metrics) RecordLink(outcome string) {
	if m != nil {
		m.linkOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordFetch counts a market fetch served from source.
func (m *Metrics) RecordFetch(feed, source string) {
	if m != nil {
		m.fetchOutcomes.WithLabelValues(feed, source).Inc()
	}
}

// SetCircuitState records the identity circuit breaker state.
func (m *Metrics) SetCircuitState(state int) {
	if m != nil {
		m.circuitState.Set(float64(state))
	}
}

// RecordWalletEvent counts connects, disconnects, switches and transfers.
func (m *Metrics) RecordWalletEvent(event string) {
	if m != nil {
		m.walletEvents.WithLabelValues(event).Inc()
	}
}
