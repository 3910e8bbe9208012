package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quickdeploy",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Count of processed HTTP requests",
	}, []string{"method", "route", "status"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quickdeploy",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route", "status"})

	rateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quickdeploy",
		Subsystem: "api",
		Name:      "rate_limit_hits_total",
		Help:      "Number of rate-limited responses",
	}, []string{"route"})
)

func recordRequestMetrics(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	requestTotal.WithLabelValues(method, route, code).Inc()
	requestLatency.WithLabelValues(method, route, code).Observe(duration.Seconds())
}

func recordRateLimitHit(route string) {
	rateLimitHits.WithLabelValues(route).Inc()
}
