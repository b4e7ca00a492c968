package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/linkgate/models"
	"github.com/use-agent/linkgate/resolver"
	"github.com/use-agent/linkgate/webhook"
	"golang.org/x/sync/errgroup"
)

// batchJob is one batch and its results, in input order.
type batchJob struct {
	mu        sync.Mutex
	id        string
	status    string
	completed int
	results   []*models.ResolveResponse
	createdAt time.Time
}

func (j *batchJob) record(idx int, resp *models.ResolveResponse) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[idx] = resp
	j.completed++
}

// finish sets the terminal status from the per-URL outcomes.
func (j *batchJob) finish() (status string, failed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range j.results {
		if r == nil || !r.Success {
			failed++
		}
	}
	switch {
	case failed == len(j.results):
		j.status = models.BatchFailed
	case failed > 0:
		j.status = models.BatchPartial
	default:
		j.status = models.BatchCompleted
	}
	return j.status, failed
}

func (j *batchJob) snapshot() models.BatchStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return models.BatchStatusResponse{
		ID:        j.id,
		Status:    j.status,
		Completed: j.completed,
		Total:     len(j.results),
		Results:   append([]*models.ResolveResponse(nil), j.results...),
	}
}

// BatchStore holds all in-flight and completed batch jobs in memory. Jobs
// are dropped once they are older than the TTL.
type BatchStore struct {
	jobs sync.Map
	ttl  time.Duration
}

// NewBatchStore creates a store whose jobs expire after ttl.
func NewBatchStore(ttl time.Duration) *BatchStore {
	return &BatchStore{ttl: ttl}
}

// Run expires old jobs every five minutes until ctx is done.
func (s *BatchStore) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.expire(now)
		}
	}
}

func (s *BatchStore) expire(now time.Time) {
	cutoff := now.Add(-s.ttl)
	s.jobs.Range(func(key, value any) bool {
		if value.(*batchJob).createdAt.Before(cutoff) {
			s.jobs.Delete(key)
		}
		return true
	})
}

func (s *BatchStore) get(id string) (*batchJob, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*batchJob), true
}

// BatchOptions bounds batch requests.
type BatchOptions struct {
	MaxURLs     int
	Concurrency int
}

// PostBatch returns a handler for POST /api/v1/resolve/batch.
// It validates the request, creates a batch job, and resolves the URLs in
// the background with bounded concurrency.
func PostBatch(rs *resolver.Resolver, inflight *InFlight, store *BatchStore, opts BatchOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewResolveError(models.ErrCodeValidation, err.Error(), err), "", start)
			return
		}
		if opts.MaxURLs > 0 && len(req.URLs) > opts.MaxURLs {
			respondError(c, models.NewResolveError(models.ErrCodeValidation,
				fmt.Sprintf("maximum %d URLs per batch", opts.MaxURLs), nil), "", start)
			return
		}

		job := &batchJob{
			id:        "batch-" + randomID(),
			status:    models.BatchProcessing,
			results:   make([]*models.ResolveResponse, len(req.URLs)),
			createdAt: start,
		}
		store.jobs.Store(job.id, job)

		go runBatch(rs, inflight, job, req, opts.Concurrency)

		c.JSON(http.StatusAccepted, models.BatchResponse{
			ID:     job.id,
			Status: models.BatchProcessing,
			Total:  len(req.URLs),
		})
	}
}

// GetBatch returns a handler for GET /api/v1/resolve/batch/:id.
func GetBatch(store *BatchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := store.get(c.Param("id"))
		if !ok {
			err := models.NewResolveError(models.ErrCodeNotFound, "batch job not found or expired", nil)
			c.JSON(mapErrorToStatus(err), models.ResolveResponse{Error: err.ToDetail()})
			return
		}
		c.JSON(http.StatusOK, job.snapshot())
	}
}

// runBatch resolves every URL of job. Each URL gets its own session; at most
// concurrency sessions run at once.
func runBatch(rs *resolver.Resolver, inflight *InFlight, job *batchJob, req models.BatchRequest, concurrency int) {
	if concurrency <= 0 {
		concurrency = 4
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, rawURL := range req.URLs {
		g.Go(func() error {
			job.record(i, resolveBatchURL(rs, inflight, rawURL))
			return nil
		})
	}
	_ = g.Wait()

	status, failed := job.finish()
	slog.Info("batch job finished",
		"id", job.id,
		"status", status,
		"failed", failed,
		"total", len(req.URLs),
	)

	if req.WebhookURL != "" {
		webhook.DeliverAsync(req.WebhookURL, req.WebhookSecret, &webhook.Event{
			Type:      webhook.EventBatchCompleted,
			JobID:     job.id,
			Timestamp: time.Now().Unix(),
			Data:      job.snapshot(),
		}, nil)
	}
}

// resolveBatchURL validates and resolves one batch entry. Failures are
// recorded per URL and never stop the batch.
func resolveBatchURL(rs *resolver.Resolver, inflight *InFlight, rawURL string) *models.ResolveResponse {
	start := time.Now()

	normalized, err := models.NormalizeURL(rawURL)
	if err != nil {
		_, body := errorResponse(err, rawURL, start)
		return body
	}

	resp, err := resolveOne(context.Background(), rs, inflight, normalized, start)
	if err != nil {
		_, body := errorResponse(err, normalized, start)
		return body
	}
	return resp
}

// randomID generates a short random hex string for job IDs.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
