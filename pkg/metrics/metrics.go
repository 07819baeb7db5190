// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexProfiles        prometheus.Gauge
	IndexRebuildsTotal   *prometheus.CounterVec
	RateLimitRejections  prometheus.Counter
	AuthVerifications    *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		IndexProfiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_profiles",
				Help: "Number of profiles in the published search index.",
			},
		),
		IndexRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_rebuilds_total",
				Help: "Total index rebuilds by status.",
			},
			[]string{"status"},
		),
		RateLimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limit_rejections_total",
				Help: "Total requests rejected by the rate limiter.",
			},
		),
		AuthVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_verifications_total",
				Help: "Token verifications by outcome (cached, verified, invalid, error).",
			},
			[]string{"outcome"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexProfiles,
		m.IndexRebuildsTotal,
		m.RateLimitRejections,
		m.AuthVerifications,
	)

	return m
}

// ObserveCacheHit increments the cache hit counter.
func (m *Metrics) ObserveCacheHit() { m.CacheHitsTotal.Inc() }

// ObserveCacheMiss increments the cache miss counter.
func (m *Metrics) ObserveCacheMiss() { m.CacheMissesTotal.Inc() }

// ObserveRebuild records an index rebuild outcome and, on success, the
// published index size.
func (m *Metrics) ObserveRebuild(profiles int, err error) {
	if err != nil {
		m.IndexRebuildsTotal.WithLabelValues("error").Inc()
		return
	}
	m.IndexRebuildsTotal.WithLabelValues("success").Inc()
	m.IndexProfiles.Set(float64(profiles))
}

// ObserveRateLimitRejection counts a request rejected by the rate limiter.
func (m *Metrics) ObserveRateLimitRejection() {
	m.RateLimitRejections.Inc()
}

// ObserveVerification counts a token verification by outcome.
func (m *Metrics) ObserveVerification(outcome string) {
	m.AuthVerifications.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
