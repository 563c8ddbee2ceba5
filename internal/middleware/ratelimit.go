// Package middleware provides HTTP middleware beyond what chi ships.
package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/overunder/market-core/internal/metrics"
)

const (
	// limiterTTL is how long an idle client keeps its limiter entry.
	limiterTTL = 10 * time.Minute
	// sweepInterval bounds how often idle entries are scanned for eviction.
	sweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters tracks one token bucket per client IP and evicts entries
// that have been idle longer than limiterTTL, so the map cannot grow without
// bound under address churn.
type clientLimiters struct {
	mu        sync.Mutex
	perSec    rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiters(perSec float64, burst int) *clientLimiters {
	return &clientLimiters{
		perSec:   rate.Limit(perSec),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (c *clientLimiters) get(ip string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= sweepInterval {
		for addr, v := range c.visitors {
			if now.Sub(v.lastSeen) > limiterTTL {
				delete(c.visitors, addr)
			}
		}
		c.lastSweep = now
	}

	v, ok := c.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(c.perSec, c.burst)}
		c.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (c *clientLimiters) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.visitors)
}

// RateLimit returns middleware that applies per-client token-bucket rate
// limiting. Each unique client IP gets its own limiter allowing perSec
// requests per second with the given burst.
func RateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	limiters := newClientLimiters(perSec, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.get(clientIP(r)).Allow() {
				metrics.RateLimitRejections.Inc()
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP determines the real client IP from standard proxy headers,
// falling back to the direct remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
