package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonmaxxxon/discourse-lens/internal/jobmanager"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/phenomenon"
	"github.com/jasonmaxxxon/discourse-lens/internal/store"
)

type fakeJobService struct {
	createErr   error
	createdJob  *models.Job
	getJob      jobmanager.Result[*models.Job]
	listJobs    jobmanager.Result[[]models.Job]
	listItems   jobmanager.Result[[]models.JobItem]
	summary     jobmanager.Result[jobmanager.Summary]
	lastPipeline models.PipelineType
	lastMode     models.JobMode
	lastConfig   map[string]any
}

func (f *fakeJobService) CreateJob(ctx context.Context, pipelineType models.PipelineType, mode models.JobMode, inputConfig map[string]any) (*models.Job, error) {
	f.lastPipeline = pipelineType
	f.lastMode = mode
	f.lastConfig = inputConfig
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createdJob, nil
}

func (f *fakeJobService) GetJob(ctx context.Context, id string) jobmanager.Result[*models.Job] {
	return f.getJob
}

func (f *fakeJobService) ListJobs(ctx context.Context, limit int) jobmanager.Result[[]models.Job] {
	return f.listJobs
}

func (f *fakeJobService) ListJobItems(ctx context.Context, jobID string) jobmanager.Result[[]models.JobItem] {
	return f.listItems
}

func (f *fakeJobService) Summary(ctx context.Context, jobID string) jobmanager.Result[jobmanager.Summary] {
	return f.summary
}

type fakePostReader struct {
	posts    []models.Post
	postByID map[string]*models.Post
	comments []models.Comment
	searchErr error
	lastSort store.CommentSort
}

func (f *fakePostReader) ListPosts(ctx context.Context, limit int) ([]models.Post, error) {
	return f.posts, nil
}

func (f *fakePostReader) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return f.postByID[id], nil
}

func (f *fakePostReader) CommentsByPost(ctx context.Context, postID string, sort store.CommentSort, limit, offset int) ([]models.Comment, error) {
	f.lastSort = sort
	return f.comments, nil
}

func (f *fakePostReader) SearchComments(ctx context.Context, filter store.CommentSearchFilter, limit int) ([]models.Comment, error) {
	return f.comments, f.searchErr
}

type fakePhenomenonReader struct {
	list       []models.Phenomenon
	byID       map[string]*models.Phenomenon
	postsForID []models.Post
}

func (f *fakePhenomenonReader) ListPhenomena(ctx context.Context, status, q string) ([]models.Phenomenon, error) {
	return f.list, nil
}

func (f *fakePhenomenonReader) GetPhenomenon(ctx context.Context, id string) (*models.Phenomenon, error) {
	return f.byID[id], nil
}

func (f *fakePhenomenonReader) PostsForPhenomenon(ctx context.Context, id string, limit int) ([]models.Post, error) {
	return f.postsForID, nil
}

type fakePromoter struct {
	err error
}

func (f *fakePromoter) Promote(ctx context.Context, id string) error {
	return f.err
}

func newTestServer(jobs JobService, posts PostReader, phen PhenomenonReader, promoter Promoter) http.Handler {
	if jobs == nil {
		jobs = &fakeJobService{}
	}
	if posts == nil {
		posts = &fakePostReader{}
	}
	if phen == nil {
		phen = &fakePhenomenonReader{}
	}
	if promoter == nil {
		promoter = &fakePromoter{}
	}
	return New(jobs, posts, phen, promoter, "test")
}

func TestHealth(t *testing.T) {
	srv := newTestServer(nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateJob_Success(t *testing.T) {
	jobs := &fakeJobService{
		createdJob: &models.Job{ID: "job-1", PipelineType: models.PipelineA, Status: models.JobProcessing},
		listItems:  jobmanager.Result[[]models.JobItem]{Value: []models.JobItem{{ID: "item-1", JobID: "job-1"}}},
	}
	srv := newTestServer(jobs, nil, nil, nil)

	body, _ := json.Marshal(map[string]any{
		"pipeline_type": "A",
		"mode":          "full",
		"input_config":  map[string]any{"url": "https://example.com/post/1"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PipelineA, jobs.lastPipeline)
	assert.Equal(t, models.ModeFull, jobs.lastMode)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp["job"])
	assert.Len(t, resp["items"], 1)
}

func TestCreateJob_InvalidPipelineType(t *testing.T) {
	srv := newTestServer(nil, nil, nil, nil)
	body, _ := json.Marshal(map[string]any{"pipeline_type": "zzz"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	jobs := &fakeJobService{getJob: jobmanager.Result[*models.Job]{Value: nil}}
	srv := newTestServer(jobs, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs_DegradedSetsHeader(t *testing.T) {
	jobs := &fakeJobService{listJobs: jobmanager.Result[[]models.Job]{Value: []models.Job{{ID: "j1"}}, Degraded: true}}
	srv := newTestServer(jobs, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("x-ops-degraded"))
	assert.Equal(t, "max-age=2", rec.Header().Get("Cache-Control"))
}

func TestJobSummary_StaleOverridesStatus(t *testing.T) {
	jobs := &fakeJobService{
		summary: jobmanager.Result[jobmanager.Summary]{
			Value: jobmanager.Summary{Job: models.Job{Status: models.JobProcessing}, Stale: true},
		},
	}
	srv := newTestServer(jobs, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/summary", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(models.JobStale), resp["status"])
}

func TestAnalysisJSON_InvalidReturnsReason(t *testing.T) {
	reason := "missing_keys"
	posts := &fakePostReader{postByID: map[string]*models.Post{
		"p1": {ID: "p1", AnalysisIsValid: false, AnalysisInvalidReason: reason},
	}}
	srv := newTestServer(nil, posts, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/analysis-json/p1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "analysis not available", resp.Detail)
	assert.Equal(t, map[string]any{"reason": reason}, resp.DevContext)
}

func TestAnalysisJSON_PostNotFound(t *testing.T) {
	srv := newTestServer(nil, &fakePostReader{postByID: map[string]*models.Post{}}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/analysis-json/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommentsByPost_DefaultsSortToLikes(t *testing.T) {
	posts := &fakePostReader{comments: []models.Comment{{ID: "c1", PostID: "p1"}}}
	srv := newTestServer(nil, posts, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/comments/by-post/p1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.CommentSortLikes, posts.lastSort)
}

func TestSearchComments_RequiresQuery(t *testing.T) {
	srv := newTestServer(nil, &fakePostReader{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/comments/search", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPromotePhenomenon_NotPromotableReturnsConflict(t *testing.T) {
	promoter := &fakePromoter{err: &phenomenon.ErrNotPromotable{CurrentStatus: "active"}}
	srv := newTestServer(nil, nil, nil, promoter)
	req := httptest.NewRequest(http.MethodPost, "/api/library/phenomena/phen-1/promote", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPromotePhenomenon_NotFound(t *testing.T) {
	promoter := &fakePromoter{err: phenomenon.ErrNotFound}
	srv := newTestServer(nil, nil, nil, promoter)
	req := httptest.NewRequest(http.MethodPost, "/api/library/phenomena/phen-1/promote", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPromotePhenomenon_Success(t *testing.T) {
	srv := newTestServer(nil, nil, nil, &fakePromoter{})
	req := httptest.NewRequest(http.MethodPost, "/api/library/phenomena/phen-1/promote", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLegacyRun_DelegatesToPipelineParam(t *testing.T) {
	jobs := &fakeJobService{createdJob: &models.Job{ID: "job-2"}}
	srv := newTestServer(jobs, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/run/B", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PipelineB, jobs.lastPipeline)
	assert.Equal(t, models.ModeRun, jobs.lastMode)
}
