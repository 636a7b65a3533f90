package jobmanager

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jasonmaxxxon/discourse-lens/internal/cache"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/store"
)

// Summary is the computed job-progress view for GET .../summary.
type Summary struct {
	Job   models.Job
	Stale bool
}

// GetJob returns a job by id through the degraded-read wrapper.
func (m *Manager) GetJob(ctx context.Context, id string) Result[*models.Job] {
	return withDegradedRead(ctx, m.cache, fmt.Sprintf("job:%s", id), m.cacheTTL, func(ctx context.Context) (*models.Job, error) {
		return m.store.GetJob(ctx, id)
	})
}

// ListJobs returns the newest jobs, capped at limit.
func (m *Manager) ListJobs(ctx context.Context, limit int) Result[[]models.Job] {
	if limit <= 0 {
		limit = 50
	}
	return withDegradedRead(ctx, m.cache, fmt.Sprintf("jobs_list:%d", limit), m.cacheTTL, func(ctx context.Context) ([]models.Job, error) {
		return m.store.ListJobs(ctx, limit)
	})
}

// ListJobItems returns every item of a job.
func (m *Manager) ListJobItems(ctx context.Context, jobID string) Result[[]models.JobItem] {
	return withDegradedRead(ctx, m.cache, fmt.Sprintf("job_items:%s", jobID), m.cacheTTL, func(ctx context.Context) ([]models.JobItem, error) {
		return m.store.ListJobItems(ctx, jobID)
	})
}

// Summary returns the job header plus the derived "stale" flag: a
// heartbeat older than 60s while still short of total is a worker that
// has stopped making progress without having failed outright.
func (m *Manager) Summary(ctx context.Context, jobID string) Result[Summary] {
	return withDegradedRead(ctx, m.cache, fmt.Sprintf("job_summary:%s", jobID), m.cacheTTL, func(ctx context.Context) (Summary, error) {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return Summary{}, err
		}
		if job == nil {
			return Summary{}, nil
		}
		stale := job.Status == models.JobProcessing && job.ProcessedCount < job.TotalCount &&
			job.LastHeartbeatAt != nil && time.Since(*job.LastHeartbeatAt) > 60*time.Second
		return Summary{Job: *job, Stale: stale}, nil
	})
}

// withDegradedRead implements spec §4.6's degraded-read contract: serve a
// fresh cache hit outright; otherwise retry the store call up to 3 times
// with 0.3*2^i backoff on transient errors; on ultimate failure, fall
// back to a (possibly stale) cached value with Degraded=true, or a zero
// value with Degraded=true if nothing is cached at all.
func withDegradedRead[T any](ctx context.Context, c *cache.Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) Result[T] {
	if c != nil {
		if v, ok := c.Fresh(key, ttl); ok {
			if tv, ok := v.(T); ok {
				return Result[T]{Value: tv, Degraded: false}
			}
		}
	}

	var (
		value T
		err   error
	)
	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		value, err = fetch(ctx)
		if err == nil {
			if c != nil {
				c.Set(key, value)
			}
			return Result[T]{Value: value, Degraded: false}
		}
		if !store.IsTransient(err) {
			break
		}
		if i < maxAttempts-1 {
			backoff := time.Duration(0.3 * math.Pow(2, float64(i)) * float64(time.Second))
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
		}
	}

	if c != nil {
		if cached, ok := c.Get(key); ok {
			if tv, ok := cached.(T); ok {
				return Result[T]{Value: tv, Degraded: true}
			}
		}
	}
	var zero T
	return Result[T]{Value: zero, Degraded: true}
}
