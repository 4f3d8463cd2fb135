package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket(t *testing.T) {
	t.Run("burst up to capacity", func(t *testing.T) {
		bucket := NewTokenBucket(3, 1)
		for i := 0; i < 3; i++ {
			assert.True(t, bucket.Allow())
		}
		assert.False(t, bucket.Allow())
	})

	t.Run("refills over time", func(t *testing.T) {
		bucket := NewTokenBucket(1, 100)
		assert.True(t, bucket.Allow())
		assert.False(t, bucket.Allow())

		time.Sleep(20 * time.Millisecond)
		assert.True(t, bucket.Allow())
	})

	t.Run("reset refills immediately", func(t *testing.T) {
		bucket := NewTokenBucket(1, 0.001)
		assert.True(t, bucket.Allow())
		assert.False(t, bucket.Allow())

		bucket.Reset()
		assert.True(t, bucket.Allow())
	})
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, 0.001, 0)

	assert.True(t, limiter.Allow("203.0.113.1"))
	assert.False(t, limiter.Allow("203.0.113.1"))
	assert.True(t, limiter.Allow("203.0.113.2"))
}

func TestMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("per-IP limit", func(t *testing.T) {
		m := NewMiddleware(&Config{
			PerIPCapacity:   2,
			PerIPRefillRate: 0.001,
			EndpointLimits:  map[string]EndpointLimit{},
		})
		handler := m.Handler(next)

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/anything", nil)
			req.RemoteAddr = "203.0.113.1:1234"
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/anything", nil)
		req.RemoteAddr = "203.0.113.1:1234"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("endpoint limit is tighter than IP limit", func(t *testing.T) {
		m := NewMiddleware(&Config{
			PerIPCapacity:   100,
			PerIPRefillRate: 10,
			EndpointLimits: map[string]EndpointLimit{
				"POST /api/auth/login": {Capacity: 1, RefillRate: 0.001},
			},
		})
		handler := m.Handler(next)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		// Other endpoints are unaffected
		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/other", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("X-Forwarded-For takes precedence", func(t *testing.T) {
		m := NewMiddleware(&Config{
			PerIPCapacity:   1,
			PerIPRefillRate: 0.001,
			EndpointLimits:  map[string]EndpointLimit{},
		})
		handler := m.Handler(next)

		for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/anything", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
			handler.ServeHTTP(rec, req)
			assert.Equal(t, want, rec.Code, "request %d", i)
		}
	})
}
