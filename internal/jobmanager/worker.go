package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jasonmaxxxon/discourse-lens/internal/cache"
	"github.com/jasonmaxxxon/discourse-lens/internal/config"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/pipeline"
)

// WorkerStatus mirrors tarsy's queue.WorkerStatus.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerWorking WorkerStatus = "working"
)

// itemRegistry is the subset of WorkerPool a Worker needs for cancellation
// bookkeeping, mirroring tarsy's SessionRegistry.
type itemRegistry interface {
	RegisterItem(itemID string, cancel context.CancelFunc)
	UnregisterItem(itemID string)
	NotifyIfTerminal(ctx context.Context, job *models.Job)
}

// Worker polls for and processes one job's items, claiming, heartbeating,
// and writing back terminal results. Grounded on tarsy's pkg/queue.Worker
// — the poll/claim/heartbeat/terminal-write shape is unchanged; session
// execution is replaced by a pipeline.Pipeline run.
type Worker struct {
	id       string
	jobID    string
	store    Store
	executor ItemExecutor
	cfg      config.Queue
	pool     itemRegistry
	cache    *cache.Cache

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                sync.RWMutex
	status            WorkerStatus
	currentItemID     string
	itemsProcessed    int
	lastActivity      time.Time
}

func NewWorker(id, jobID string, st Store, executor ItemExecutor, cfg config.Queue, pool itemRegistry, c *cache.Cache) *Worker {
	return &Worker{
		id: id, jobID: jobID, store: st, executor: executor, cfg: cfg, pool: pool, cache: c,
		stopCh: make(chan struct{}), status: WorkerIdle, lastActivity: time.Now(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// WorkerHealth mirrors tarsy's queue.WorkerHealth.
type WorkerHealth struct {
	ID             string
	Status         WorkerStatus
	CurrentItemID  string
	ItemsProcessed int
	LastActivity   time.Time
}

func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID: w.id, Status: w.status, CurrentItemID: w.currentItemID,
		ItemsProcessed: w.itemsProcessed, LastActivity: w.lastActivity,
	}
}

func (w *Worker) setStatus(s WorkerStatus, itemID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
	w.currentItemID = itemID
	w.lastActivity = time.Now()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id, "job_id", w.jobID)
	log.Info("worker started")

	pollInterval := w.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoneAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(pollInterval)
					continue
				}
				log.Error("error processing job item", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	leaseTTL := w.cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 60 * time.Second
	}

	item, err := w.store.ClaimJobItem(ctx, w.jobID, w.id, leaseTTL)
	if err != nil {
		if errors.Is(err, ErrNoItemsAvailable) {
			return ErrNoneAvailable
		}
		return fmt.Errorf("claim job item: %w", err)
	}

	log := slog.With("item_id", item.ID, "target_id", item.TargetID, "worker_id", w.id)
	log.Info("job item claimed")

	w.setStatus(WorkerWorking, item.ID)
	defer w.setStatus(WorkerIdle, "")

	itemCtx, cancel := context.WithCancel(ctx)
	w.pool.RegisterItem(item.ID, cancel)
	defer func() {
		cancel()
		w.pool.UnregisterItem(item.ID)
	}()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(itemCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, item.ID, leaseTTL)

	post, runErr := w.executor.Run(itemCtx, item.TargetID, func(cbCtx context.Context, stage models.Stage) error {
		return w.store.SetJobItemStage(cbCtx, item.ID, stage)
	})
	cancelHeartbeat()

	w.invalidateCaches()

	if runErr != nil {
		var terr *pipeline.TerminalError
		msg := runErr.Error()
		if errors.As(runErr, &terr) {
			msg = fmt.Sprintf("%s: %s", terr.Code, terr.Message)
		}
		if err := w.store.FailJobItem(context.Background(), item.ID, msg); err != nil {
			log.Error("failed to write terminal failure", "error", err)
			return err
		}
		log.Warn("job item failed", "error", msg)
	} else {
		postID := ""
		if post != nil {
			postID = post.ID
		}
		if err := w.store.CompleteJobItem(context.Background(), item.ID, postID); err != nil {
			log.Error("failed to write terminal completion", "error", err)
			return err
		}
		log.Info("job item completed", "post_id", postID)
	}

	w.mu.Lock()
	w.itemsProcessed++
	w.mu.Unlock()

	if job, jobErr := w.store.GetJob(context.Background(), w.jobID); jobErr == nil {
		w.pool.NotifyIfTerminal(context.Background(), job)
	}
	return nil
}

// runHeartbeat periodically extends the item's lease, mirroring tarsy's
// runHeartbeat last_interaction_at refresh.
func (w *Worker) runHeartbeat(ctx context.Context, itemID string, leaseTTL time.Duration) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 || interval > 4*time.Second {
		interval = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.HeartbeatJobItem(ctx, itemID, leaseTTL); err != nil {
				slog.Warn("item heartbeat failed", "item_id", itemID, "error", err)
			}
			if err := w.store.HeartbeatJob(ctx, w.jobID); err != nil {
				slog.Warn("job heartbeat failed", "job_id", w.jobID, "error", err)
			}
		}
	}
}

func (w *Worker) invalidateCaches() {
	if w.cache == nil {
		return
	}
	w.cache.DelPrefix("job:" + w.jobID)
	w.cache.DelPrefix("job_items:" + w.jobID)
	w.cache.DelPrefix("job_summary:" + w.jobID)
	w.cache.DelPrefix("jobs_list:")
}
