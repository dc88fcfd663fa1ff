package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines the counters emitted by the service.
type Metrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	IncExtraction(status string)
	IncEvicted(n int)
	IncSweepFailures(n int)
	IncRateLimited(route string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) IncExtraction(string)                           {}
func (Noop) IncEvicted(int)                                 {}
func (Noop) IncSweepFailures(int)                           {}
func (Noop) IncRateLimited(string)                          {}

// Prom implements Metrics backed by Prometheus collectors on its own registry.
type Prom struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	extractions   *prometheus.CounterVec
	evicted       prometheus.Counter
	sweepFailures prometheus.Counter
	rateLimited   *prometheus.CounterVec
}

// NewProm constructs Prometheus metrics under namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Audio extractions by result",
		}, []string{"status"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_evicted_total",
			Help:      "Artifacts removed by the expiry sweeper",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Artifacts the expiry sweeper failed to remove",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the request gate per route",
		}, []string{"route"}),
	}
	p.registry.MustRegister(
		p.requests,
		p.latency,
		p.extractions,
		p.evicted,
		p.sweepFailures,
		p.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) IncExtraction(status string) {
	p.extractions.WithLabelValues(status).Inc()
}

func (p *Prom) IncEvicted(n int) {
	p.evicted.Add(float64(n))
}

func (p *Prom) IncSweepFailures(n int) {
	p.sweepFailures.Add(float64(n))
}

func (p *Prom) IncRateLimited(route string) {
	p.rateLimited.WithLabelValues(route).Inc()
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
