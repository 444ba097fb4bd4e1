// Package metrics holds the Prometheus collectors of the cart service. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	mutations         *prometheus.CounterVec
	integrityFailures prometheus.Counter
	conflicts         prometheus.Counter
	requestDuration   *prometheus.HistogramVec
	catalogFetches    *prometheus.CounterVec
}

// New registers the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_mutations_total",
			Help: "Cart mutations by action and outcome.",
		}, []string{"action", "outcome"}),
		integrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_session_integrity_failures_total",
			Help: "Session cookies that failed verification.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_conflicts_total",
			Help: "Cart writes rejected because another writer advanced the session.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cart_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		catalogFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_catalog_fetches_total",
			Help: "Backend product catalog fetches by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.mutations,
		m.integrityFailures,
		m.conflicts,
		m.requestDuration,
		m.catalogFetches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Mutation(action, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IntegrityFailure() {
	if m == nil {
		return
	}
	m.integrityFailures.Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func (m *Metrics) CatalogFetch(outcome string) {
	if m == nil {
		return
	}
	m.catalogFetches.WithLabelValues(outcome).Inc()
}
