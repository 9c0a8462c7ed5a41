// Package metrics provides Prometheus instrumentation for the risk service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EvaluationsTotal counts risk evaluations by weighting profile.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "evaluations_total",
			Help:      "Total risk evaluations by weighting profile (hybrid, rule_only, denylist, cached).",
		},
		[]string{"profile"},
	)

	// EvaluationDuration observes end-to-end evaluation latency.
	EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskgate",
		Name:      "evaluation_duration_seconds",
		Help:      "Risk evaluation duration in seconds (cache misses only).",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// ProviderFailuresTotal counts degraded provider calls by provider and cause.
	ProviderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "provider_failures_total",
			Help:      "Signal provider calls degraded to no-signal, by provider and cause.",
		},
		[]string{"provider", "cause"},
	)

	// ProviderDuration observes provider call latency by provider.
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "provider_duration_seconds",
			Help:      "Signal provider call duration in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"provider"},
	)

	// CacheHitsTotal counts verdict cache hits.
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskgate",
		Name:      "cache_hits_total",
		Help:      "Verdict cache hits.",
	})

	// CacheMissesTotal counts verdict cache misses (including expired entries).
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskgate",
		Name:      "cache_misses_total",
		Help:      "Verdict cache misses, including expired entries.",
	})

	// CacheSweptTotal counts entries evicted by the periodic sweep.
	CacheSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskgate",
		Name:      "cache_swept_total",
		Help:      "Expired verdict cache entries removed by the sweeper.",
	})

	// CacheSize tracks the current number of cached verdicts.
	CacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate",
		Name:      "cache_size",
		Help:      "Current number of cached verdicts.",
	})

	// DecisionsTotal counts gateway decisions by outcome.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "decisions_total",
			Help:      "Gateway decisions by outcome (allow, block, fail_open).",
		},
		[]string{"outcome"},
	)

	// DenyListHitsTotal counts deny-list short-circuits.
	DenyListHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskgate",
		Name:      "denylist_hits_total",
		Help:      "Evaluations short-circuited by a deny-list match.",
	})

	// DenyListEntries tracks the size of the loaded deny-list.
	DenyListEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate",
		Name:      "denylist_entries",
		Help:      "Number of loaded deny-list entries.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EvaluationsTotal,
		EvaluationDuration,
		ProviderFailuresTotal,
		ProviderDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheSweptTotal,
		CacheSize,
		DecisionsTotal,
		DenyListHitsTotal,
		DenyListEntries,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
