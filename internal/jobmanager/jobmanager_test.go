package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonmaxxxon/discourse-lens/internal/config"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/pipeline"
)

// fakeStore is an in-memory Store good enough to exercise the claim/
// lease/heartbeat/terminal and discovery paths without a real database.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	items     map[string]*models.JobItem
	postsByID map[string]*models.Post

	getJobErrSeq []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[string]*models.Job{},
		items:     map[string]*models.JobItem{},
		postsByID: map[string]*models.Post{},
	}
}

func (f *fakeStore) CreateJob(ctx context.Context, job models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeStore) CreateJobItems(ctx context.Context, jobID string, items []models.JobItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		cp := it
		f.items[it.ID] = &cp
	}
	return nil
}

func (f *fakeStore) MarkJobProcessing(ctx context.Context, jobID string, totalCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.TotalCount = totalCount
	j.Status = models.JobProcessing
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.getJobErrSeq) > 0 {
		err := f.getJobErrSeq[0]
		f.getJobErrSeq = f.getJobErrSeq[1:]
		if err != nil {
			return nil, err
		}
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Job
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeStore) ListJobItems(ctx context.Context, jobID string) ([]models.JobItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.JobItem
	for _, it := range f.items {
		if it.JobID == jobID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimJobItem(ctx context.Context, jobID, workerID string, leaseTTL time.Duration) (*models.JobItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.JobID == jobID && it.Status == models.ItemPending {
			it.Status = models.ItemProcessing
			it.Stage = models.StageFetch
			it.WorkerID = &workerID
			lease := time.Now().Add(leaseTTL)
			it.LeaseExpiresAt = &lease
			it.Attempts++
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNoItemsAvailable
}

func (f *fakeStore) SetJobItemStage(ctx context.Context, itemID string, stage models.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[itemID]; ok {
		it.Stage = stage
	}
	return nil
}

func (f *fakeStore) HeartbeatJobItem(ctx context.Context, itemID string, leaseTTL time.Duration) error {
	return nil
}

func (f *fakeStore) HeartbeatJob(ctx context.Context, jobID string) error { return nil }

func (f *fakeStore) CompleteJobItem(ctx context.Context, itemID, resultPostID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.items[itemID]
	it.Status = models.ItemCompleted
	it.Stage = models.StageCompleted
	it.ResultPostID = &resultPostID
	job := f.jobs[it.JobID]
	job.ProcessedCount++
	job.SuccessCount++
	if job.ProcessedCount >= job.TotalCount {
		job.Status = models.JobCompleted
	}
	return nil
}

func (f *fakeStore) FailJobItem(ctx context.Context, itemID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.items[itemID]
	it.Status = models.ItemFailed
	it.Stage = models.StageFailed
	it.ErrorLog = &errMsg
	job := f.jobs[it.JobID]
	job.ProcessedCount++
	job.FailedCount++
	if job.ProcessedCount >= job.TotalCount {
		job.Status = models.JobFailed
	}
	return nil
}

func (f *fakeStore) StaleJobItems(ctx context.Context, olderThan time.Duration) ([]models.JobItem, error) {
	return nil, nil
}

func (f *fakeStore) RecoverOrphanItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[itemID]; ok {
		it.Status = models.ItemPending
		it.WorkerID = nil
		it.LeaseExpiresAt = nil
	}
	return nil
}

func (f *fakeStore) GetPostByURL(ctx context.Context, url string) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.postsByID {
		if p.URL == url {
			return p, nil
		}
	}
	return nil, nil
}

// fakeExecutor completes every item with a deterministic post id unless
// the target is registered to fail.
type fakeExecutor struct {
	failTargets map[string]error
}

func (e *fakeExecutor) Run(ctx context.Context, target string, cb pipeline.StageCallback) (*models.Post, error) {
	if cb != nil {
		_ = cb(ctx, models.StageFetch)
	}
	if err, ok := e.failTargets[target]; ok {
		return nil, err
	}
	return &models.Post{ID: "post-for-" + target, URL: target}, nil
}

func waitForJobStatus(t *testing.T, st *fakeStore, jobID string, want models.JobStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, _ := st.GetJob(context.Background(), jobID)
		if j != nil && j.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s in time", jobID, want)
}

func testQueueConfig() config.Queue {
	return config.Queue{
		WorkerCount: 2, BatchConcurrency: 2,
		LeaseTTL: time.Second, HeartbeatInterval: 50 * time.Millisecond,
		StaleThreshold: time.Minute, PollInterval: 10 * time.Millisecond,
		JitterMin: time.Millisecond, JitterMax: 2 * time.Millisecond,
	}
}

func TestManager_CreateJob_MockDiscoveryOnEmptyInput(t *testing.T) {
	st := newFakeStore()
	exec := &fakeExecutor{}
	m := New(st, exec, testQueueConfig(), config.Cache{MaxKeys: 64, TTL: 2 * time.Second})

	job, err := m.CreateJob(context.Background(), models.PipelineA, models.ModeFull, nil)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 5, job.TotalCount)

	waitForJobStatus(t, st, job.ID, models.JobCompleted, 2*time.Second)
	m.StopAll()
}

func TestManager_CreateJob_ExplicitURL_CompletesSingleItem(t *testing.T) {
	st := newFakeStore()
	exec := &fakeExecutor{}
	m := New(st, exec, testQueueConfig(), config.Cache{MaxKeys: 64, TTL: 2 * time.Second})

	job, err := m.CreateJob(context.Background(), models.PipelineA, models.ModeFull, map[string]any{
		"url": "https://www.threads.net/@a/post/1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, job.TotalCount)

	waitForJobStatus(t, st, job.ID, models.JobCompleted, 2*time.Second)
	items, err := st.ListJobItems(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemCompleted, items[0].Status)
	m.StopAll()
}

func TestManager_CreateJob_FailedItemFinalizesJobFailed(t *testing.T) {
	st := newFakeStore()
	target := "https://www.threads.net/@a/post/bad"
	exec := &fakeExecutor{failTargets: map[string]error{
		target: &pipeline.TerminalError{Code: pipeline.CodeAnalysisMissing, Stage: models.StageStore, Message: "no report"},
	}}
	m := New(st, exec, testQueueConfig(), config.Cache{MaxKeys: 64, TTL: 2 * time.Second})

	job, err := m.CreateJob(context.Background(), models.PipelineA, models.ModeFull, map[string]any{"url": target})
	require.NoError(t, err)

	waitForJobStatus(t, st, job.ID, models.JobFailed, 2*time.Second)
	m.StopAll()
}

func TestManager_GetJob_DegradedOnTransientFailureServesCache(t *testing.T) {
	st := newFakeStore()
	id := uuid.NewString()
	st.jobs[id] = &models.Job{ID: id, Status: models.JobProcessing, TotalCount: 1}

	exec := &fakeExecutor{}
	m := New(st, exec, testQueueConfig(), config.Cache{MaxKeys: 64, TTL: time.Millisecond})

	first := m.GetJob(context.Background(), id)
	require.False(t, first.Degraded)
	require.NotNil(t, first.Value)

	time.Sleep(5 * time.Millisecond) // let the cache entry go stale
	st.getJobErrSeq = []error{fmt.Errorf("connection refused"), fmt.Errorf("connection refused"), fmt.Errorf("connection refused")}

	second := m.GetJob(context.Background(), id)
	assert.True(t, second.Degraded)
	require.NotNil(t, second.Value)
	assert.Equal(t, id, second.Value.ID)
}

func TestManager_GetJob_DegradedWithNoCacheReturnsZeroValue(t *testing.T) {
	st := newFakeStore()
	st.getJobErrSeq = []error{fmt.Errorf("connection refused"), fmt.Errorf("connection refused"), fmt.Errorf("connection refused")}
	m := New(st, &fakeExecutor{}, testQueueConfig(), config.Cache{MaxKeys: 64, TTL: time.Second})

	res := m.GetJob(context.Background(), "missing")
	assert.True(t, res.Degraded)
	assert.Nil(t, res.Value)
}

func TestDiscover_ExplicitTargetWinsOverTargets(t *testing.T) {
	targets, stats := Discover(map[string]any{
		"target":  "https://www.threads.net/@a/post/1",
		"targets": []any{"https://www.threads.net/@a/post/2"},
	}, "job-1")
	// explicit "target" wins over "targets[]"
	assert.Equal(t, []string{"https://www.threads.net/@a/post/1"}, targets)
	assert.Equal(t, 1, stats.DiscoveryCount)
}

func TestDiscover_DedupPreservesFirstOccurrenceOrder(t *testing.T) {
	targets, _ := Discover(map[string]any{
		"targets": []any{"a", "b", "a", "c"},
	}, "job-1")
	assert.Equal(t, []string{"a", "b", "c"}, targets)
}

func TestDiscover_EmptyInputSynthesizesFiveMockTargets(t *testing.T) {
	targets, stats := Discover(nil, "job-xyz")
	require.Len(t, targets, 5)
	assert.Equal(t, "mock://job-xyz/1", targets[0])
	assert.Equal(t, "mock://job-xyz/5", targets[4])
	assert.Equal(t, 5, stats.DiscoveryCount)
}

func TestBatchRunner_SkipIfExistsFiltersExistingPosts(t *testing.T) {
	st := newFakeStore()
	st.postsByID["p1"] = &models.Post{ID: "p1", URL: "https://www.threads.net/@a/post/1"}

	br := NewBatchRunner(st, testQueueConfig())
	selected, err := br.ResolveTargets(context.Background(),
		[]string{"https://www.threads.net/@a/post/1", "https://www.threads.net/@a/post/2"},
		models.ReprocessSkipIfExists, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.threads.net/@a/post/2"}, selected)
}

func TestBatchRunner_ForceAllKeepsExisting(t *testing.T) {
	st := newFakeStore()
	st.postsByID["p1"] = &models.Post{ID: "p1", URL: "https://www.threads.net/@a/post/1"}

	br := NewBatchRunner(st, testQueueConfig())
	selected, err := br.ResolveTargets(context.Background(),
		[]string{"https://www.threads.net/@a/post/1"}, models.ReprocessForceAll, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.threads.net/@a/post/1"}, selected)
}

func TestBatchRunner_ForceIfKeywordHitKeepsExistingOnlyWhenKeywordSourced(t *testing.T) {
	st := newFakeStore()
	st.postsByID["p1"] = &models.Post{ID: "p1", URL: "https://www.threads.net/@a/post/1"}
	br := NewBatchRunner(st, testQueueConfig())

	notKeyword, err := br.ResolveTargets(context.Background(), []string{"https://www.threads.net/@a/post/1"}, models.ReprocessForceIfKeyword, false)
	require.NoError(t, err)
	assert.Empty(t, notKeyword)

	isKeyword, err := br.ResolveTargets(context.Background(), []string{"https://www.threads.net/@a/post/1"}, models.ReprocessForceIfKeyword, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.threads.net/@a/post/1"}, isKeyword)
}
