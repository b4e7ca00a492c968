package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/linkgate/config"
	"github.com/use-agent/linkgate/models"
	"golang.org/x/time/rate"
)

const (
	idleClientTTL = time.Hour
	sweepInterval = 5 * time.Minute
)

// clientLimiters holds one token bucket per client IP.
type clientLimiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(cfg config.RateLimitConfig) *clientLimiters {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &clientLimiters{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
		buckets: make(map[string]*clientBucket),
	}
}

// reserve takes a token for ip at now. It returns zero when the request
// may proceed, otherwise how long the client should wait.
func (l *clientLimiters) reserve(ip string, now time.Time) time.Duration {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d
	}
	return 0
}

// sweep drops clients not seen since cutoff.
func (l *clientLimiters) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

func (l *clientLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit limits resolutions per client IP with a token bucket. Every
// resolution launches a browser, so the sustained default is 30 per
// minute with a small burst on top. Rejected requests get 429 with
// Retry-After.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiters := newClientLimiters(cfg)

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for now := range ticker.C {
			limiters.sweep(now.Add(-idleClientTTL))
		}
	}()

	return func(c *gin.Context) {
		wait := limiters.reserve(c.ClientIP(), time.Now())
		if wait == 0 {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ResolveResponse{
			Error: &models.ErrorDetail{
				Code:    models.ErrCodeRateLimited,
				Message: "too many requests, please try again later",
			},
		})
	}
}
