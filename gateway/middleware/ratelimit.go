package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit describes the token-bucket budget for one route key.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// RateLimiter applies per-client token buckets keyed by route. Routes without
// a configured limit are unrestricted.
type RateLimiter struct {
	limits   map[string]RateLimit
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	ttl      time.Duration
}

func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{
		limits:   limits,
		visitors: make(map[string]*rate.Limiter),
		ttl:      5 * time.Minute,
	}
}

// Middleware returns a handler wrapper enforcing the limit registered under
// key for the calling client.
func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			limiter := r.obtainLimiter(key+"|"+clientID(req), limit)
			if !limiter.Allow() {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtainLimiter(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.visitors[id]; ok {
		return limiter
	}
	perSecond := cfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	r.visitors[id] = limiter
	go r.expire(id)
	return limiter
}

func (r *RateLimiter) expire(id string) {
	timer := time.NewTimer(r.ttl)
	defer timer.Stop()
	<-timer.C
	r.mu.Lock()
	delete(r.visitors, id)
	r.mu.Unlock()
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := forwarded
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			first = forwarded[:comma]
		}
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
