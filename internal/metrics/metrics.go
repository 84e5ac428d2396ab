// Package metrics exposes gateway counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "embedgate"

// Metrics owns a dedicated registry. All methods are safe on a nil receiver,
// which disables recording.
type Metrics struct {
	Registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	encodeLatency  *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
}

// New creates the gateway metrics and registers the Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Embedding requests by modality and outcome kind.",
		}, []string{"modality", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end embedding request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"modality"}),
		encodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Backend encode latency per space, including slot wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"space", "modality"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Vector cache lookups by space and result.",
		}, []string{"space", "result"}),
	}

	registry.MustRegister(
		m.requests,
		m.requestLatency,
		m.encodeLatency,
		m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request. outcome is "ok" or an error kind.
func (m *Metrics) ObserveRequest(modality, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(modality, outcome).Inc()
	m.requestLatency.WithLabelValues(modality).Observe(d.Seconds())
}

// ObserveEncode records one backend call.
func (m *Metrics) ObserveEncode(space, modality string, d time.Duration) {
	if m == nil {
		return
	}
	m.encodeLatency.WithLabelValues(space, modality).Observe(d.Seconds())
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(space string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(space, result).Inc()
}
