package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/linkgate/config"
)

func TestClientLimitersSustainedRate(t *testing.T) {
	l := newClientLimiters(config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 5})
	start := time.Now()

	// A fresh client gets the burst, then one request every two seconds.
	for i := 0; i < 5; i++ {
		require.Zero(t, l.reserve("10.0.0.1", start), "burst request %d", i)
	}
	wait := l.reserve("10.0.0.1", start)
	assert.InDelta(t, 2*time.Second, wait, float64(50*time.Millisecond))

	// A rejected request does not consume the next token.
	assert.Zero(t, l.reserve("10.0.0.1", start.Add(2*time.Second)))

	// Buckets are per client.
	assert.Zero(t, l.reserve("10.0.0.2", start))
}

func TestClientLimitersFirstMinuteBudget(t *testing.T) {
	l := newClientLimiters(config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 5})
	start := time.Now()

	allowed := 0
	for ms := 0; ms < 60_000; ms += 100 {
		if l.reserve("10.0.0.1", start.Add(time.Duration(ms)*time.Millisecond)) == 0 {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 35)
	assert.GreaterOrEqual(t, allowed, 30)
}

func TestClientLimitersSweep(t *testing.T) {
	l := newClientLimiters(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Now()
	l.reserve("old", now.Add(-2*time.Hour))
	l.reserve("fresh", now)

	l.sweep(now.Add(-idleClientTTL))
	assert.Equal(t, 1, l.size())
}

func TestRateLimitRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 1}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"RATE_LIMITED"`)
}
