package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// EndpointLimit is a tighter budget for one method+path
type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// Config holds the middleware limits
type Config struct {
	PerIPCapacity   int
	PerIPRefillRate float64
	EndpointLimits  map[string]EndpointLimit
	BucketTTL       time.Duration
}

// DefaultConfig allows 100 requests per minute per IP. Endpoint limits
// are left to the caller since they depend on route prefixes.
func DefaultConfig() *Config {
	return &Config{
		PerIPCapacity:   100,
		PerIPRefillRate: 100.0 / 60.0,
		EndpointLimits:  make(map[string]EndpointLimit),
		BucketTTL:       time.Hour,
	}
}

// Middleware enforces per-IP and per-endpoint limits
type Middleware struct {
	config           *Config
	ipLimiter        *Limiter
	endpointLimiters map[string]*Limiter
}

// NewMiddleware creates the rate limiting middleware
func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Middleware{
		config:           config,
		ipLimiter:        NewLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL),
		endpointLimiters: make(map[string]*Limiter),
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpointLimiters[endpoint] = NewLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}
	return m
}

// Handler wraps next with rate limiting
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if limiter, ok := m.endpointLimiters[r.Method+" "+r.URL.Path]; ok {
			if !limiter.Allow(ip) {
				m.reject(w, r, ip, "endpoint")
				return
			}
		}
		if !m.ipLimiter.Allow(ip) {
			m.reject(w, r, ip, "ip")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, ip, scope string) {
	slog.Warn("Rate limited request", "ip", ip, "path", r.URL.Path, "scope", scope)
	w.Header().Set("Retry-After", "60")
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
