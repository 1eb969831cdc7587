package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records API request counts and latency per route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	throttle *prometheus.CounterVec
}

var (
	httpOnce     sync.Once
	httpRegistry *HTTPMetrics
)

func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = NewHTTPMetrics(prometheus.DefaultRegisterer)
	})
	return httpRegistry
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidpoold_http_requests_total",
			Help: "HTTP requests served by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bidpoold_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		throttle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidpoold_http_throttled_total",
			Help: "Requests rejected by the rate limiter by route.",
		}, []string{"route"}),
	}
	reg.MustRegister(m.requests, m.latency, m.throttle)
	return m
}

func (m *HTTPMetrics) Observe(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *HTTPMetrics) ObserveThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.throttle.WithLabelValues(route).Inc()
}
