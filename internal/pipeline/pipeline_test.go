package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonmaxxxon/discourse-lens/internal/breaker"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators/fakes"
	"github.com/jasonmaxxxon/discourse-lens/internal/fingerprint"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/phenomenon"
)

type fakeStore struct {
	byURL       map[string]*models.Post
	posts       map[string]*models.Post
	clusterErr  error
	commentsErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byURL: map[string]*models.Post{}, posts: map[string]*models.Post{}}
}

func (f *fakeStore) GetPostByURL(ctx context.Context, url string) (*models.Post, error) {
	return f.byURL[url], nil
}
func (f *fakeStore) GetPostByShortcode(ctx context.Context, shortcode string) (*models.Post, error) {
	return nil, nil
}
func (f *fakeStore) UpsertPost(ctx context.Context, p *models.Post) error {
	cp := *p
	f.posts[p.ID] = &cp
	f.byURL[p.URL] = &cp
	return nil
}
func (f *fakeStore) UpsertComments(ctx context.Context, comments []models.Comment) error {
	return f.commentsErr
}
func (f *fakeStore) UpsertCommentClusters(ctx context.Context, postID string, clusters []models.CommentCluster) error {
	return f.clusterErr
}
func (f *fakeStore) SetCommentClusterAssignments(ctx context.Context, assignments []models.CommentAssignment) error {
	return nil
}

type fakePhenStore struct {
	phenomena map[string]*models.Phenomenon
}

func newFakePhenStore() *fakePhenStore { return &fakePhenStore{phenomena: map[string]*models.Phenomenon{}} }

func (f *fakePhenStore) CandidatesForMatch(ctx context.Context) ([]phenomenon.Candidate, error) {
	return nil, nil
}
func (f *fakePhenStore) GetPhenomenon(ctx context.Context, id string) (*models.Phenomenon, error) {
	return f.phenomena[id], nil
}
func (f *fakePhenStore) UpsertPhenomenon(ctx context.Context, in phenomenon.UpsertInput) error {
	f.phenomena[in.ID] = &models.Phenomenon{ID: in.ID, Status: in.Status, Embedding: in.Embedding}
	return nil
}
func (f *fakePhenStore) IncrementOccurrence(ctx context.Context, id string) error { return nil }
func (f *fakePhenStore) SetStatus(ctx context.Context, id string, status models.PhenomenonStatus) error {
	return nil
}

func newRegistry(dim int) *phenomenon.Registry {
	embedder := fingerprint.NewEmbedder(&fakes.Embedding{Dim: dim}, breaker.New(breaker.DefaultConfig("test")))
	return phenomenon.New(newFakePhenStore(), embedder, phenomenon.Config{MatchThreshold: 0.86, MatchTopK: 5})
}

func basicScraped(url string) *collaborators.ScrapedPost {
	return &collaborators.ScrapedPost{
		URL: url, Author: "alice", Text: "a post long enough to not be silent, with plenty of words in it to pass the gate",
		Likes: 10, Replies: 2, Views: 100,
		Comments: []collaborators.Comment{
			{ID: "c1", Author: "bob", Text: "great point thanks for sharing this", LikeCount: 3, RawJSON: map[string]any{"text": "great point thanks for sharing this", "author": "bob", "id": "c1"}},
		},
	}
}

func TestRun_HealthyPath(t *testing.T) {
	scraper := &fakes.Scraper{Posts: map[string]*collaborators.ScrapedPost{"target-1": {
		PostID: "post-1", URL: "https://www.threads.net/@alice/post/ABC", Author: "alice",
		Text: "a post long enough to not be silent, with plenty of words in it to pass the gate",
		Likes: 10, Replies: 2, Views: 100,
		Comments: []collaborators.Comment{
			{ID: "c1", Author: "bob", Text: "great point thanks for sharing this", LikeCount: 3, RawJSON: map[string]any{"text": "great point thanks for sharing this", "author": "bob", "id": "c1"}},
		},
	}}}
	llm := &fakes.LLM{Payload: map[string]any{"full_report": "a full narrative report"}}
	store := newFakeStore()
	embedder := &fakes.Embedding{Dim: 16}

	p := New(scraper, &fakes.Vision{}, &fakes.OCR{}, llm, embedder, store, newRegistry(16), Config{})

	var stages []models.Stage
	post, err := p.Run(context.Background(), "target-1", func(ctx context.Context, s models.Stage) error {
		stages = append(stages, s)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.True(t, post.AnalysisIsValid || post.FullReport != "")
	assert.Contains(t, stages, models.StageCompleted)
	assert.NotNil(t, post.Phenomenon.ID)
}

func TestRun_NoURL_IsTerminalIngestNoPostID(t *testing.T) {
	scraper := &fakes.Scraper{Posts: map[string]*collaborators.ScrapedPost{"target-1": {URL: ""}}}
	store := newFakeStore()
	p := New(scraper, &fakes.Vision{}, &fakes.OCR{}, &fakes.LLM{}, &fakes.Embedding{}, store, newRegistry(8), Config{})

	_, err := p.Run(context.Background(), "target-1", nil)
	require.Error(t, err)
	var terr *TerminalError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeIngestNoPostID, terr.Code)
}

func TestRun_AnalystFailureWithNoPriorReport_IsAnalysisMissing(t *testing.T) {
	scraper := &fakes.Scraper{Posts: map[string]*collaborators.ScrapedPost{"target-1": basicScraped("https://www.threads.net/@alice/post/ABC")}}
	llm := &fakes.LLM{Err: assert.AnError}
	store := newFakeStore()
	p := New(scraper, &fakes.Vision{}, &fakes.OCR{}, llm, &fakes.Embedding{Dim: 8}, store, newRegistry(8), Config{})

	_, err := p.Run(context.Background(), "target-1", nil)
	require.Error(t, err)
	var terr *TerminalError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeAnalysisMissing, terr.Code)
}

func TestRun_ClusterPersistenceFailure_IsNonFatal(t *testing.T) {
	scraper := &fakes.Scraper{Posts: map[string]*collaborators.ScrapedPost{"target-1": basicScraped("https://www.threads.net/@alice/post/ABC")}}
	llm := &fakes.LLM{Payload: map[string]any{"full_report": "a full narrative report"}}
	store := newFakeStore()
	store.clusterErr = assert.AnError
	p := New(scraper, &fakes.Vision{}, &fakes.OCR{}, llm, &fakes.Embedding{Dim: 8}, store, newRegistry(8), Config{})

	var stages []models.Stage
	post, err := p.Run(context.Background(), "target-1", func(ctx context.Context, s models.Stage) error {
		stages = append(stages, s)
		return nil
	})
	require.NoError(t, err, "a cluster-persistence write failure must degrade, not abort, the item (spec §4.2)")
	require.NotNil(t, post)
	assert.Contains(t, stages, models.StageCompleted)
}

func TestRun_PopulatesClusterSummaryFromStructureMapper(t *testing.T) {
	scraper := &fakes.Scraper{Posts: map[string]*collaborators.ScrapedPost{"target-1": basicScraped("https://www.threads.net/@alice/post/ABC")}}
	llm := &fakes.LLM{Payload: map[string]any{"full_report": "a full narrative report"}}
	store := newFakeStore()

	p := New(scraper, &fakes.Vision{}, &fakes.OCR{}, llm, &fakes.Embedding{Dim: 8}, store, newRegistry(8), Config{})

	post, err := p.Run(context.Background(), "target-1", nil)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.NotEmpty(t, post.ClusterSummary, "ClusterSummary should be populated from the structure mapper's clusters")
}

func TestScoreVisionGate_SilentPostAndHighImpact(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, nil, nil, Config{})
	post := &models.Post{PostText: "short", Engagement: models.Engagement{Views: 60000}}
	score, reasons := p.scoreVisionGate(context.Background(), post)
	assert.GreaterOrEqual(t, score, 3.5)
	assert.Contains(t, reasons, "SilentPost")
	assert.Contains(t, reasons, "HighImpact")
}

func TestCanonicalizeURL_DropsQueryAndNormalizesHost(t *testing.T) {
	got := CanonicalizeURL("https://www.threads.com/@alice/post/ABC?utm=1")
	assert.Equal(t, "https://www.threads.net/@alice/post/ABC", got)
}

func TestVisionMode_Off_NeverRuns(t *testing.T) {
	scraper := &fakes.Scraper{Posts: map[string]*collaborators.ScrapedPost{"target-1": {
		PostID: "post-1", URL: "https://www.threads.net/@a/post/X", Author: "a", Text: "hello",
		ImageURLs: []string{"https://img.example/1.png"},
	}}}
	llm := &fakes.LLM{Payload: map[string]any{"full_report": "report"}}
	store := newFakeStore()
	p := New(scraper, &fakes.Vision{}, &fakes.OCR{}, llm, &fakes.Embedding{Dim: 8}, store, newRegistry(8), Config{VisionMode: models.VisionOff})

	post, err := p.Run(context.Background(), "target-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VisionStageNone, post.Vision.StageRan)
}
