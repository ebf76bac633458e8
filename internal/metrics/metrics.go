// ABOUTME: Prometheus instrumentation for the dispatcher
// ABOUTME: Counts requests per mode/status, cache traffic, generation calls, webhook outcomes

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is a
// no-op so callers need no enabled checks at every site.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	generations prometheus.Counter
	webhooks    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New builds and registers the collector set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_requests_total",
			Help: "Dispatched requests by mode and response status.",
		}, []string{"mode", "status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "funnel_cache_hits_total",
			Help: "Content cache probe hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "funnel_cache_misses_total",
			Help: "Content cache probe misses.",
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "funnel_generations_total",
			Help: "Generation provider invocations.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_webhook_deliveries_total",
			Help: "Webhook notification attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "funnel_request_duration_seconds",
			Help:    "End-to-end dispatch latency by mode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	registry.MustRegister(m.requests, m.cacheHits, m.cacheMisses, m.generations, m.webhooks, m.duration)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(mode, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode, status).Inc()
	m.duration.WithLabelValues(mode).Observe(seconds)
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) Generation() {
	if m == nil {
		return
	}
	m.generations.Inc()
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}
