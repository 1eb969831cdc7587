package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"coharvest/observability/metrics"
)

// RateLimit bounds requests per client address.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and forgets clients that have
// been idle for the eviction window.
type RateLimiter struct {
	limit    RateLimit
	metrics  *metrics.HTTPMetrics
	mu       sync.Mutex
	visitors map[string]*visitor
	idle     time.Duration
	clockNow func() time.Time
}

func NewRateLimiter(limit RateLimit, m *metrics.HTTPMetrics) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		metrics:  m,
		visitors: make(map[string]*visitor),
		idle:     5 * time.Minute,
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		if !r.obtainLimiter(clientID(req)).Allow() {
			route := ""
			if rctx := chi.RouteContext(req.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			r.metrics.ObserveThrottle(route)
			writeProblem(w, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	for key, v := range r.visitors {
		if now.Sub(v.lastSeen) > r.idle {
			delete(r.visitors, key)
		}
	}
	if entry, ok := r.visitors[id]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	perSecond := r.limit.RequestsPerMinute / 60.0
	burst := r.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	r.visitors[id] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
