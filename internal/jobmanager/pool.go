package jobmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jasonmaxxxon/discourse-lens/internal/cache"
	"github.com/jasonmaxxxon/discourse-lens/internal/config"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/notify"
)

// ErrNoneAvailable and ErrAtCapacity are the worker loop's internal
// backoff signals, mirroring tarsy's queue.ErrNoSessionsAvailable /
// queue.ErrAtCapacity.
var (
	ErrNoneAvailable = fmt.Errorf("jobmanager: no job items available")
	ErrAtCapacity    = fmt.Errorf("jobmanager: at capacity")
)

// WorkerPool drives a bounded set of Workers that repeatedly claim and
// process the items of a single job, plus a background orphan-recovery
// scan. Grounded on tarsy's pkg/queue.WorkerPool, narrowed from a
// global session pool to a per-job item pool (this system scopes
// claim_job_item by job_id, unlike tarsy's global AlertSession queue).
type WorkerPool struct {
	jobID    string
	store    Store
	executor ItemExecutor
	cfg      config.Queue
	cache    *cache.Cache

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	activeItems   map[string]context.CancelFunc
	started       bool
	orphans       orphanState

	notifier         *notify.Service
	pipelineType     string
	dedupFingerprint string
	threadTS         string
	notifyOnce       sync.Once
}

func NewWorkerPool(jobID string, st Store, executor ItemExecutor, cfg config.Queue, c *cache.Cache,
	notifier *notify.Service, pipelineType, dedupFingerprint, threadTS string) *WorkerPool {
	n := cfg.WorkerCount
	if n <= 0 {
		n = 2
	}
	if n > 3 {
		n = 3
	}
	return &WorkerPool{
		jobID:            jobID,
		store:             st,
		executor:         executor,
		cfg:              cfg,
		cache:            c,
		workers:          make([]*Worker, 0, n),
		stopCh:           make(chan struct{}),
		activeItems:      make(map[string]context.CancelFunc),
		notifier:         notifier,
		pipelineType:     pipelineType,
		dedupFingerprint: dedupFingerprint,
		threadTS:         threadTS,
	}
}

// NotifyIfTerminal sends the job-completion notification the first time a
// worker observes the job in a terminal status. notifyOnce guards against
// duplicate posts when multiple workers finish items around the same
// moment (the first caller to see a terminal status sends; every later
// caller is a no-op).
func (p *WorkerPool) NotifyIfTerminal(ctx context.Context, job *models.Job) {
	if p.notifier == nil || job == nil {
		return
	}
	if job.Status != models.JobCompleted && job.Status != models.JobFailed {
		return
	}
	p.notifyOnce.Do(func() {
		errSummary := ""
		if job.ErrorSummary != nil {
			errSummary = *job.ErrorSummary
		}
		p.notifier.NotifyJobCompleted(ctx, notify.JobCompletedInput{
			JobID:            job.ID,
			PipelineType:     p.pipelineType,
			Status:           string(job.Status),
			TotalCount:       job.TotalCount,
			SuccessCount:     job.SuccessCount,
			FailedCount:      job.FailedCount,
			ErrorSummary:     errSummary,
			DedupFingerprint: p.dedupFingerprint,
			ThreadTS:         p.threadTS,
		})
	})
}

// Start spawns the worker goroutines and the orphan-recovery background
// task. Safe to call only once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	n := cap(p.workers)
	slog.Info("starting job worker pool", "job_id", p.jobID, "worker_count", n)
	for i := 0; i < n; i++ {
		w := NewWorker(fmt.Sprintf("%s-w%d", p.jobID, i), p.jobID, p.store, p.executor, p.cfg, p, p.cache)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()
}

// Stop signals every worker and the orphan scan to stop, and waits for
// in-flight items to finish their current claim before returning.
func (p *WorkerPool) Stop() {
	active := p.activeItemIDs()
	if len(active) > 0 {
		slog.Info("waiting for active job items to finish", "job_id", p.jobID, "count", len(active))
	}
	for _, w := range p.workers {
		w.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// RegisterItem stores a cancel function for an in-flight item, so the
// pool could later support manual cancellation (mirrors tarsy's
// RegisterSession/CancelSession, not currently exposed over HTTP).
func (p *WorkerPool) RegisterItem(itemID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeItems[itemID] = cancel
}

func (p *WorkerPool) UnregisterItem(itemID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeItems, itemID)
}

func (p *WorkerPool) activeItemIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.activeItems))
	for id := range p.activeItems {
		out = append(out, id)
	}
	return out
}

// PoolHealth mirrors tarsy's queue.PoolHealth, renamed from sessions to
// job items.
type PoolHealth struct {
	JobID            string
	TotalWorkers     int
	ActiveItems      int
	WorkerStats      []WorkerHealth
	LastOrphanScan   time.Time
	OrphansRecovered int
}

// Health reports the pool's current state for diagnostics/summary reads.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.RLock()
	active := len(p.activeItems)
	p.mu.RUnlock()

	stats := make([]WorkerHealth, 0, len(p.workers))
	for _, w := range p.workers {
		stats = append(stats, w.Health())
	}

	p.orphans.mu.Lock()
	lastScan, recovered := p.orphans.lastOrphanScan, p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	return PoolHealth{
		JobID:            p.jobID,
		TotalWorkers:     len(p.workers),
		ActiveItems:      active,
		WorkerStats:      stats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}
