package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the Prometheus instruments. NewMetrics returns a
// process-wide singleton; promauto registration must happen exactly once.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	dbQueriesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	rateLimitHitsTotal *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// NewMetrics returns the singleton metrics instance, registering the
// instruments on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crudkit_http_requests_total",
				Help: "HTTP requests by method, path and status class",
			}, []string{"method", "path", "status"}),
			httpRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "crudkit_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "path"}),
			dbQueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crudkit_db_queries_total",
				Help: "Database queries by operation, resource and outcome",
			}, []string{"operation", "resource", "outcome"}),
			dbQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "crudkit_db_query_duration_seconds",
				Help:    "Database query latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation", "resource"}),
			cacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crudkit_cache_hits_total",
				Help: "Query cache hits by resource",
			}, []string{"resource"}),
			cacheMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crudkit_cache_misses_total",
				Help: "Query cache misses by resource",
			}, []string{"resource"}),
			rateLimitHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crudkit_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			}, []string{"limiter"}),
		}
	})
	return metricsInstance
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	p := normalizePath(path)
	m.httpRequestsTotal.WithLabelValues(method, p, statusClass(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, p).Observe(duration.Seconds())
}

// RecordDBQuery records one executed statement.
func (m *Metrics) RecordDBQuery(operation, resource string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.dbQueriesTotal.WithLabelValues(operation, resource, outcome).Inc()
	m.dbQueryDuration.WithLabelValues(operation, resource).Observe(duration.Seconds())
}

// RecordCacheHit records a query-cache hit.
func (m *Metrics) RecordCacheHit(resource string) {
	m.cacheHitsTotal.WithLabelValues(resource).Inc()
}

// RecordCacheMiss records a query-cache miss.
func (m *Metrics) RecordCacheMiss(resource string) {
	m.cacheMissesTotal.WithLabelValues(resource).Inc()
}

// RecordRateLimitHit records a request rejected by the named limiter.
func (m *Metrics) RecordRateLimitHit(limiter string) {
	m.rateLimitHitsTotal.WithLabelValues(limiter).Inc()
}

// statusClass buckets an HTTP status into its class label.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}

// normalizePath caps label cardinality for pathological paths.
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}
