// Package metrics provides Prometheus metrics for the llms.txt service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "llmstxt"

// Metrics groups the service collectors. The zero value is not usable; a nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// ResponsesTotal counts routing outcomes.
	ResponsesTotal *prometheus.CounterVec
	// RenderDuration measures how long generation of a document takes.
	RenderDuration *prometheus.HistogramVec
	// CacheLookups counts content cache hits and misses.
	CacheLookups *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ResponsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Total number of routed requests by outcome",
			},
			[]string{"outcome"},
		),
		RenderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of document generation in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of content cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// RecordResponse records one routed request
func (m *Metrics) RecordResponse(outcome string) {
	if m == nil {
		return
	}
	m.ResponsesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRender records the time spent producing a document of kind
func (m *Metrics) ObserveRender(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RenderDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// CacheLookup records a content cache lookup
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
