package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/linkgate/models"
	"github.com/use-agent/linkgate/resolver"
)

// Resolve returns a handler for POST /api/v1/resolve (and the legacy
// POST /api/bypass).
//
// Orchestration flow:
//  1. Parse & validate request, normalize the URL.
//  2. Resolver.Resolve → final URL, metadata, warnings.
//  3. Fill Timing, return 200.
func Resolve(rs *resolver.Resolver, inflight *InFlight) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.ResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewResolveError(models.ErrCodeValidation, err.Error(), err), "", totalStart)
			return
		}
		if err := req.Normalize(); err != nil {
			respondError(c, err, "", totalStart)
			return
		}

		// ── 2. Resolve ──────────────────────────────────────────────
		resp, err := resolveOne(c.Request.Context(), rs, inflight, req.URL, totalStart)
		if err != nil {
			respondError(c, err, req.URL, totalStart)
			return
		}

		// ── 3. Respond ──────────────────────────────────────────────
		c.JSON(http.StatusOK, resp)
	}
}

// resolveOne runs one resolution and shapes the result for the API.
func resolveOne(ctx context.Context, rs *resolver.Resolver, inflight *InFlight, url string, start time.Time) (*models.ResolveResponse, error) {
	done := inflight.Track()
	result, err := rs.Resolve(ctx, resolver.Request{OriginalURL: url})
	done()
	if err != nil {
		return nil, err
	}

	return &models.ResolveResponse{
		Success:     true,
		OriginalURL: url,
		FinalURL:    result.FinalURL,
		Metadata:    result.Metadata,
		Warnings:    result.Warnings,
		Timing:      models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
	}, nil
}

// errorResponse builds the failure body for err.
func errorResponse(err error, originalURL string, start time.Time) (*models.ResolveError, *models.ResolveResponse) {
	resolveErr := models.AsResolveError(err)
	return resolveErr, &models.ResolveResponse{
		Success:     false,
		OriginalURL: originalURL,
		Error:       resolveErr.ToDetail(),
		Timing:      models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
	}
}

// respondError maps a ResolveError to the correct HTTP status code and
// writes a structured JSON error response.
func respondError(c *gin.Context, err error, originalURL string, start time.Time) {
	resolveErr, body := errorResponse(err, originalURL, start)
	c.JSON(mapErrorToStatus(resolveErr), body)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ResolveError) int {
	switch e.Code {
	case models.ErrCodeValidation:
		return http.StatusBadRequest // 400
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeCaptcha, models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeNavigation:
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout // 504
		}
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}
