package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/linkgate/api/handler"
	"github.com/use-agent/linkgate/api/middleware"
	"github.com/use-agent/linkgate/config"
	"github.com/use-agent/linkgate/resolver"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	Resolve: RateLimit
//
// Health and batch polling are outside the rate limit: neither launches a
// browser.
func NewRouter(rs *resolver.Resolver, cfg *config.Config, batches *handler.BatchStore, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	inflight := &handler.InFlight{}
	limit := middleware.RateLimit(cfg.RateLimit)
	resolve := handler.Resolve(rs, inflight)

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(rs, inflight, cfg.Resolver.MaxInFlight, startTime))
	v1.GET("/resolve/batch/:id", handler.GetBatch(batches))

	limited := v1.Group("", limit)
	limited.POST("/resolve", resolve)
	limited.POST("/resolve/batch", handler.PostBatch(rs, inflight, batches, handler.BatchOptions{
		MaxURLs:     cfg.Batch.MaxURLs,
		Concurrency: cfg.Batch.Concurrency,
	}))

	// Legacy path kept for existing clients.
	r.POST("/api/bypass", limit, resolve)

	return r
}
