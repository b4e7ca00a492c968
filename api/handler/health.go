package handler

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/linkgate/models"
	"github.com/use-agent/linkgate/resolver"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// InFlight counts resolutions currently holding a browser session.
type InFlight struct {
	n atomic.Int64
}

// Track marks one resolution as started and returns the func that marks
// it finished.
func (f *InFlight) Track() (done func()) {
	f.n.Add(1)
	return func() { f.n.Add(-1) }
}

// Count returns the number of running resolutions.
func (f *InFlight) Count() int {
	return int(f.n.Load())
}

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when more sessions are running than maxInFlight, which
// usually means navigations are hanging until their timeout.
func Health(rs *resolver.Resolver, inflight *InFlight, maxInFlight int, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		running := inflight.Count()

		status := "healthy"
		if maxInFlight > 0 && running > maxInFlight {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:   status,
			Uptime:   time.Since(startTime).Round(time.Second).String(),
			Backend:  rs.Backend(),
			InFlight: running,
			Version:  Version,
		})
	}
}
