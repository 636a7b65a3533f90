package jobmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

// orphanState tracks orphan-recovery metrics for a pool's Health report.
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans this job's items for expired
// leases and recovers them back to pending, mirroring tarsy's
// runOrphanDetection / detectAndRecoverOrphans.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	interval := p.cfg.StaleThreshold
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "job_id", p.jobID, "error", err)
			}
		}
	}
}

func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := p.cfg.StaleThreshold
	if threshold <= 0 {
		threshold = 60 * time.Second
	}

	stale, err := p.store.StaleJobItems(ctx, threshold)
	if err != nil {
		return err
	}

	var candidates []models.JobItem
	for _, it := range stale {
		if it.JobID == p.jobID {
			candidates = append(candidates, it)
		}
	}

	if len(candidates) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("detected orphaned job items", "job_id", p.jobID, "count", len(candidates))

	recovered := 0
	for _, it := range candidates {
		if err := p.store.RecoverOrphanItem(ctx, it.ID); err != nil {
			slog.Error("failed to recover orphaned job item", "item_id", it.ID, "error", err)
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if p.cache != nil {
		p.cache.DelPrefix("job_items:" + p.jobID)
	}
	return nil
}

// CleanupStartupOrphans performs a one-time sweep of every job's
// lease-expired items at process startup, mirroring tarsy's
// CleanupStartupOrphans (there keyed by pod_id; here any lease-expired
// item is fair game since job items are claimed by worker id, not pod,
// and a restarted process has no workers holding stale leases anymore).
func CleanupStartupOrphans(ctx context.Context, st Store, staleThreshold time.Duration) error {
	if staleThreshold <= 0 {
		staleThreshold = 60 * time.Second
	}
	stale, err := st.StaleJobItems(ctx, staleThreshold)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	slog.Warn("found startup orphans from previous run", "count", len(stale))
	for _, it := range stale {
		if err := st.RecoverOrphanItem(ctx, it.ID); err != nil {
			slog.Error("failed to recover startup orphan", "item_id", it.ID, "error", err)
			continue
		}
		slog.Info("startup orphan recovered", "item_id", it.ID)
	}
	return nil
}
