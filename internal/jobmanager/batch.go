package jobmanager

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jasonmaxxxon/discourse-lens/internal/config"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/pipeline"
)

// BatchRunner implements Pipeline B's dedicated discovery-resolution step:
// dedupe canonical URLs, consult the "existing" set, and apply
// reprocess_policy — before the resulting survivors become ordinary job
// items driven through the standard claim/lease/heartbeat worker pool.
// Grounded on spec §4.6's "Dedicated Pipeline B worker" paragraph; the
// bounded-semaphore + jitter launch pattern is adapted from tarsy's
// worker-pool fan-out (pkg/queue/pool.go WorkerCount), applied here to
// the existence-check fan-out rather than to the terminal pipeline run.
type BatchRunner struct {
	store Store
	cfg   config.Queue
}

func NewBatchRunner(st Store, cfg config.Queue) *BatchRunner {
	return &BatchRunner{store: st, cfg: cfg}
}

// ResolveTargets canonicalizes each candidate, checks the existing-post
// set concurrently (bounded by BatchConcurrency, cap 3), and filters
// according to policy. Preserves input order among survivors.
func (b *BatchRunner) ResolveTargets(ctx context.Context, candidates []string, policy models.ReprocessPolicy, keywordHit bool) ([]string, error) {
	concurrency := b.cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 3 {
		concurrency = 3
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	type outcome struct {
		idx    int
		target string
		exists bool
		err    error
	}
	results := make([]outcome, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		canonical := canonicalizeTarget(c)
		jitter(b.cfg.JitterMin, b.cfg.JitterMax)
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = outcome{idx: i, target: canonical, err: err}
			continue
		}
		wg.Add(1)
		go func(i int, canonical string) {
			defer sem.Release(1)
			defer wg.Done()
			exists := false
			if post, err := b.store.GetPostByURL(ctx, canonical); err == nil && post != nil {
				exists = true
			}
			results[i] = outcome{idx: i, target: canonical, exists: exists}
		}(i, canonical)
	}
	wg.Wait()

	skippedExists := 0
	selected := make([]string, 0, len(candidates))
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if r.exists {
			switch policy {
			case models.ReprocessForceAll:
				// always reprocess
			case models.ReprocessForceIfKeyword:
				if !keywordHit {
					skippedExists++
					continue
				}
			default: // skip_if_exists and unrecognized policies
				skippedExists++
				continue
			}
		}
		selected = append(selected, r.target)
	}

	slog.Info("batch runner resolved targets",
		"discovery_count", len(candidates), "selected_count", len(selected), "skipped_exists", skippedExists)

	return selected, nil
}

func canonicalizeTarget(t string) string {
	if len(t) > 4 && (t[:4] == "http") {
		return pipeline.CanonicalizeURL(t)
	}
	return t
}

func jitter(min, max time.Duration) {
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max <= min {
		max = time.Second
	}
	span := max - min
	d := min
	if span > 0 {
		d += time.Duration(rand.Int64N(int64(span)))
	}
	time.Sleep(d)
}
