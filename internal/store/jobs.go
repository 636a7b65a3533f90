package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

// CreateJob inserts a new job batch in "discovering" status.
func (s *Store) CreateJob(ctx context.Context, job models.Job) error {
	cfg, err := json.Marshal(job.InputConfig)
	if err != nil {
		return fmt.Errorf("store: marshal input_config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_batches (id, pipeline_type, mode, input_config, status, total_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, string(job.PipelineType), string(job.Mode), cfg, string(job.Status), job.TotalCount)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

// CreateJobItems bulk-inserts pending items for a job's expanded targets.
func (s *Store) CreateJobItems(ctx context.Context, jobID string, items []models.JobItem) error {
	batch := &pgxBatch{}
	for _, it := range items {
		batch.queue(`
			INSERT INTO job_items (id, job_id, target_id, status, stage, attempts)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, it.ID, jobID, it.TargetID, string(models.ItemPending), string(models.StageInit), 0)
	}
	return batch.send(ctx, s.pool)
}

// MarkJobProcessing sets a job's total_count and transitions it from
// discovering to processing once discovery has expanded its targets.
func (s *Store) MarkJobProcessing(ctx context.Context, jobID string, totalCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_batches SET total_count = $1, status = $2, updated_at = now() WHERE id = $3
	`, totalCount, string(models.JobProcessing), jobID)
	if err != nil {
		return fmt.Errorf("store: mark job processing: %w", err)
	}
	return nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, pipeline_type, mode, input_config, status, total_count, processed_count,
		       success_count, failed_count, created_at, updated_at, finished_at,
		       last_heartbeat_at, error_summary
		FROM job_batches WHERE id = $1
	`, id)
	return scanJob(row)
}

// ListJobs returns jobs ordered newest-first, capped at limit.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pipeline_type, mode, input_config, status, total_count, processed_count,
		       success_count, failed_count, created_at, updated_at, finished_at,
		       last_heartbeat_at, error_summary
		FROM job_batches ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                                   models.Job
		pipelineType, mode, status            string
		cfg                                   []byte
		finishedAt, lastHeartbeat             *time.Time
		errSummary                            *string
	)
	if err := row.Scan(&job.ID, &pipelineType, &mode, &cfg, &status, &job.TotalCount,
		&job.ProcessedCount, &job.SuccessCount, &job.FailedCount, &job.CreatedAt, &job.UpdatedAt,
		&finishedAt, &lastHeartbeat, &errSummary); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	job.PipelineType = models.ParsePipelineType(pipelineType)
	job.Mode = models.ParseJobMode(mode)
	job.Status = models.ParseJobStatus(status)
	job.FinishedAt = finishedAt
	job.LastHeartbeatAt = lastHeartbeat
	job.ErrorSummary = errSummary
	if len(cfg) > 0 {
		_ = json.Unmarshal(cfg, &job.InputConfig)
	}
	return &job, nil
}

// ListJobItems returns every item belonging to a job.
func (s *Store) ListJobItems(ctx context.Context, jobID string) ([]models.JobItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, target_id, status, stage, attempts, worker_id, lease_expires_at,
		       result_post_id, error_log, updated_at
		FROM job_items WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list job items: %w", err)
	}
	defer rows.Close()

	var out []models.JobItem
	for rows.Next() {
		var (
			it                        models.JobItem
			status, stage             string
			workerID, resultPostID    *string
			errLog                    *string
			leaseExpires              *time.Time
		)
		if err := rows.Scan(&it.ID, &it.JobID, &it.TargetID, &status, &stage, &it.Attempts,
			&workerID, &leaseExpires, &resultPostID, &errLog, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan job item: %w", err)
		}
		it.Status = models.ParseItemStatus(status)
		it.Stage = models.ParseStage(stage)
		it.WorkerID = workerID
		it.LeaseExpiresAt = leaseExpires
		it.ResultPostID = resultPostID
		it.ErrorLog = errLog
		out = append(out, it)
	}
	return out, rows.Err()
}

// ErrNoItemsAvailable is returned by ClaimJobItem when nothing is pending.
var ErrNoItemsAvailable = fmt.Errorf("store: no job items available")

// ClaimJobItem atomically claims the pending item with the lowest id using
// FOR UPDATE SKIP LOCKED, mirroring tarsy's claimNextSession transaction
// shape: select-for-update inside a tx, then update status/worker/lease,
// then commit.
func (s *Store) ClaimJobItem(ctx context.Context, jobID, workerID string, leaseTTL time.Duration) (*models.JobItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: claim begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id FROM job_items
		WHERE job_id = $1 AND status = $2
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, jobID, string(models.ItemPending))

	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoItemsAvailable
		}
		return nil, fmt.Errorf("store: claim select: %w", err)
	}

	now := time.Now()
	lease := now.Add(leaseTTL)
	var item models.JobItem
	var status, stage string
	var wID, resultPostID, errLog *string
	err = tx.QueryRow(ctx, `
		UPDATE job_items
		SET status = $1, stage = $2, worker_id = $3, lease_expires_at = $4,
		    attempts = attempts + 1, updated_at = $5
		WHERE id = $6
		RETURNING id, job_id, target_id, status, stage, attempts, worker_id, lease_expires_at,
		          result_post_id, error_log, updated_at
	`, string(models.ItemProcessing), string(models.StageFetch), workerID, lease, now, id).
		Scan(&item.ID, &item.JobID, &item.TargetID, &status, &stage, &item.Attempts,
			&wID, &item.LeaseExpiresAt, &resultPostID, &errLog, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: claim update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: claim commit: %w", err)
	}
	item.Status = models.ParseItemStatus(status)
	item.Stage = models.ParseStage(stage)
	item.WorkerID = wID
	item.ResultPostID = resultPostID
	item.ErrorLog = errLog
	return &item, nil
}

// SetJobItemStage updates the stage of a leased item, for pipeline
// progress callbacks.
func (s *Store) SetJobItemStage(ctx context.Context, itemID string, stage models.Stage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items SET stage = $1, updated_at = now() WHERE id = $2
	`, string(stage), itemID)
	if err != nil {
		return fmt.Errorf("store: set item stage: %w", err)
	}
	return nil
}

// HeartbeatJobItem extends the lease of an in-flight item, mirroring
// tarsy's runHeartbeat last_interaction_at refresh.
func (s *Store) HeartbeatJobItem(ctx context.Context, itemID string, leaseTTL time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items SET lease_expires_at = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, time.Now().Add(leaseTTL), itemID, string(models.ItemProcessing))
	if err != nil {
		return fmt.Errorf("store: heartbeat item: %w", err)
	}
	return nil
}

// CompleteJobItem marks an item completed with its resulting post id and
// bumps the owning job's counters.
func (s *Store) CompleteJobItem(ctx context.Context, itemID, resultPostID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: complete begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var jobID string
	if err := tx.QueryRow(ctx, `
		UPDATE job_items
		SET status = $1, stage = $2, result_post_id = $3, worker_id = NULL,
		    lease_expires_at = NULL, updated_at = now()
		WHERE id = $4
		RETURNING job_id
	`, string(models.ItemCompleted), string(models.StageCompleted), resultPostID, itemID).Scan(&jobID); err != nil {
		return fmt.Errorf("store: complete item: %w", err)
	}
	if err := bumpJobCounters(ctx, tx, jobID, true); err != nil {
		return err
	}
	if err := finalizeJobIfDone(ctx, tx, jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FailJobItem marks an item failed with an error log and bumps the owning
// job's counters.
func (s *Store) FailJobItem(ctx context.Context, itemID, errMsg string) error {
	const maxErrLogLen = 500
	if len(errMsg) > maxErrLogLen {
		errMsg = errMsg[:maxErrLogLen]
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: fail begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var jobID string
	if err := tx.QueryRow(ctx, `
		UPDATE job_items
		SET status = $1, stage = $2, error_log = $3, worker_id = NULL,
		    lease_expires_at = NULL, updated_at = now()
		WHERE id = $4
		RETURNING job_id
	`, string(models.ItemFailed), string(models.StageFailed), errMsg, itemID).Scan(&jobID); err != nil {
		return fmt.Errorf("store: fail item: %w", err)
	}
	if err := bumpJobCounters(ctx, tx, jobID, false); err != nil {
		return err
	}
	if err := finalizeJobIfDone(ctx, tx, jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func bumpJobCounters(ctx context.Context, tx pgx.Tx, jobID string, success bool) error {
	successDelta, failDelta := 0, 0
	if success {
		successDelta = 1
	} else {
		failDelta = 1
	}
	_, err := tx.Exec(ctx, `
		UPDATE job_batches
		SET processed_count = processed_count + 1,
		    success_count = success_count + $1,
		    failed_count = failed_count + $2,
		    updated_at = now()
		WHERE id = $3
	`, successDelta, failDelta, jobID)
	if err != nil {
		return fmt.Errorf("store: bump job counters: %w", err)
	}
	return nil
}

// finalizeJobIfDone flips a job to completed/failed once processed_count
// reaches total_count; called after every item-terminal write so the job
// status converges without a separate polling pass.
func finalizeJobIfDone(ctx context.Context, tx pgx.Tx, jobID string) error {
	var processed, total, failed int
	if err := tx.QueryRow(ctx, `
		SELECT processed_count, total_count, failed_count FROM job_batches WHERE id = $1
	`, jobID).Scan(&processed, &total, &failed); err != nil {
		return fmt.Errorf("store: finalize check: %w", err)
	}
	if processed < total {
		return nil
	}
	status := models.JobCompleted
	if failed > 0 {
		status = models.JobFailed
	}
	_, err := tx.Exec(ctx, `
		UPDATE job_batches SET status = $1, finished_at = now(), updated_at = now() WHERE id = $2
	`, string(status), jobID)
	if err != nil {
		return fmt.Errorf("store: finalize job: %w", err)
	}
	return nil
}

// HeartbeatJob records job-level liveness, used by the worker pool's
// health endpoint.
func (s *Store) HeartbeatJob(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_batches SET last_heartbeat_at = now() WHERE id = $1
	`, jobID)
	return err
}

// StaleJobItems returns in-flight items whose lease has expired, for
// orphan detection.
func (s *Store) StaleJobItems(ctx context.Context, olderThan time.Duration) ([]models.JobItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, target_id, status, stage, attempts, worker_id, lease_expires_at,
		       result_post_id, error_log, updated_at
		FROM job_items
		WHERE status = $1 AND lease_expires_at IS NOT NULL AND lease_expires_at < $2
	`, string(models.ItemProcessing), time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("store: stale items: %w", err)
	}
	defer rows.Close()

	var out []models.JobItem
	for rows.Next() {
		var (
			it                     models.JobItem
			status, stage          string
			workerID, resultPostID *string
			errLog                 *string
			leaseExpires           *time.Time
		)
		if err := rows.Scan(&it.ID, &it.JobID, &it.TargetID, &status, &stage, &it.Attempts,
			&workerID, &leaseExpires, &resultPostID, &errLog, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan stale item: %w", err)
		}
		it.Status = models.ParseItemStatus(status)
		it.Stage = models.ParseStage(stage)
		it.WorkerID = workerID
		it.LeaseExpiresAt = leaseExpires
		it.ResultPostID = resultPostID
		it.ErrorLog = errLog
		out = append(out, it)
	}
	return out, rows.Err()
}

// RecoverOrphanItem resets an orphaned (lease-expired) item back to
// pending so another worker can claim it, mirroring orphan.go's
// recoverOrphanedSession.
func (s *Store) RecoverOrphanItem(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_items
		SET status = $1, worker_id = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`, string(models.ItemPending), itemID, string(models.ItemProcessing))
	if err != nil {
		return fmt.Errorf("store: recover orphan item: %w", err)
	}
	return nil
}

// pgxBatch is a tiny convenience wrapper over pgx.Batch for bulk inserts.
type pgxBatch struct {
	b pgx.Batch
}

func (pb *pgxBatch) queue(sql string, args ...any) {
	pb.b.Queue(sql, args...)
}

func (pb *pgxBatch) send(ctx context.Context, pool interface {
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}) error {
	br := pool.SendBatch(ctx, &pb.b)
	defer br.Close()
	for i := 0; i < pb.b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: batch insert: %w", err)
		}
	}
	return nil
}
