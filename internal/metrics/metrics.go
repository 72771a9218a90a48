// Package metrics exposes the console's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for remote operations.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder owns a private registry with per-operation remote call timings,
// result counters, emitted event counts and the current tree size.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
	nodes    prometheus.Gauge
}

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "device_console",
			Name:      "remote_requests_total",
			Help:      "Remote API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "device_console",
			Name:      "remote_request_duration_seconds",
			Help:      "Remote API call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "device_console",
			Name:      "events_total",
			Help:      "Console events emitted by type.",
		}, []string{"type"}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "device_console",
			Name:      "location_nodes",
			Help:      "Sites, floors and rooms currently held in memory.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests, r.duration, r.events, r.nodes,
	)
	return r
}

// ObserveRemote records one remote call.
func (r *Recorder) ObserveRemote(op, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(op, outcome).Inc()
	r.duration.WithLabelValues(op).Observe(d.Seconds())
}

// CountEvent increments the counter for an emitted console event.
func (r *Recorder) CountEvent(eventType string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(eventType).Inc()
}

// SetNodes records the current number of location nodes.
func (r *Recorder) SetNodes(n int) {
	if r == nil {
		return
	}
	r.nodes.Set(float64(n))
}

// Registry returns the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
