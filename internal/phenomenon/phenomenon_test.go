package phenomenon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonmaxxxon/discourse-lens/internal/breaker"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators/fakes"
	"github.com/jasonmaxxxon/discourse-lens/internal/fingerprint"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

type fakeStore struct {
	candidates []Candidate
	phenomena  map[string]*models.Phenomenon
	upserted   []UpsertInput
	statusSet  map[string]models.PhenomenonStatus
	occurrence map[string]int
	candErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		phenomena:  make(map[string]*models.Phenomenon),
		statusSet:  make(map[string]models.PhenomenonStatus),
		occurrence: make(map[string]int),
	}
}

func (f *fakeStore) CandidatesForMatch(ctx context.Context) ([]Candidate, error) {
	return f.candidates, f.candErr
}
func (f *fakeStore) GetPhenomenon(ctx context.Context, id string) (*models.Phenomenon, error) {
	return f.phenomena[id], nil
}
func (f *fakeStore) UpsertPhenomenon(ctx context.Context, in UpsertInput) error {
	f.upserted = append(f.upserted, in)
	f.phenomena[in.ID] = &models.Phenomenon{ID: in.ID, Status: in.Status, Embedding: in.Embedding}
	return nil
}
func (f *fakeStore) IncrementOccurrence(ctx context.Context, id string) error {
	f.occurrence[id]++
	return nil
}
func (f *fakeStore) SetStatus(ctx context.Context, id string, status models.PhenomenonStatus) error {
	f.statusSet[id] = status
	if f.phenomena[id] != nil {
		f.phenomena[id].Status = status
	}
	return nil
}

func newEmbedder(dim int) *fingerprint.Embedder {
	return fingerprint.NewEmbedder(&fakes.Embedding{Dim: dim}, breaker.New(breaker.DefaultConfig("embed")))
}

func TestMatchOrMint_MintsWhenNoCandidates(t *testing.T) {
	store := newFakeStore()
	reg := New(store, newEmbedder(8), Config{MatchThreshold: 0.86, MatchTopK: 5})

	bundle := fingerprint.BuildEvidenceBundle("a novel post", nil, nil, nil)
	result, err := reg.MatchOrMint(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMinted, result.Outcome)
	assert.Equal(t, fingerprint.DeterministicPhenomenonID(bundle.Fingerprint), result.PhenomenonID)
	assert.Len(t, store.upserted, 1)
	assert.Equal(t, models.PhenomenonProvisional, store.upserted[0].Status)
}

func TestMatchOrMint_MatchesAboveThreshold(t *testing.T) {
	store := newFakeStore()
	embedder := newEmbedder(8)
	bundle := fingerprint.BuildEvidenceBundle("repeat pattern post", nil, nil, nil)
	emb, err := embedder.Embed(context.Background(), bundle.Fingerprint)
	require.NoError(t, err)
	store.candidates = []Candidate{{ID: "existing-id", Embedding: emb}}

	reg := New(store, embedder, Config{MatchThreshold: 0.5, MatchTopK: 5})
	result, err := reg.MatchOrMint(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMatched, result.Outcome)
	assert.Equal(t, "existing-id", result.PhenomenonID)
	assert.Empty(t, store.upserted)
}

func TestMatchOrMint_MintsWhenBelowThreshold(t *testing.T) {
	store := newFakeStore()
	embedder := newEmbedder(8)
	store.candidates = []Candidate{{ID: "unrelated", Embedding: []float64{1, 0, 0, 0, 0, 0, 0, 0}}}

	reg := New(store, embedder, Config{MatchThreshold: 0.999, MatchTopK: 5})
	bundle := fingerprint.BuildEvidenceBundle("something else entirely", nil, nil, nil)
	result, err := reg.MatchOrMint(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMinted, result.Outcome)
}

func TestPatchAnalysisPhenomenon_SkipsFinalizedStatus(t *testing.T) {
	phen := &models.AnalysisPhenomenon{Status: "active"}
	PatchAnalysisPhenomenon(phen, models.MatchResult{PhenomenonID: "new-id", Outcome: models.OutcomeMatched})
	assert.Nil(t, phen.ID)
	assert.Equal(t, "active", phen.Status)
}

func TestPatchAnalysisPhenomenon_AppliesWhenPending(t *testing.T) {
	phen := &models.AnalysisPhenomenon{Status: "pending"}
	PatchAnalysisPhenomenon(phen, models.MatchResult{PhenomenonID: "new-id", Outcome: models.OutcomeMinted})
	require.NotNil(t, phen.ID)
	assert.Equal(t, "new-id", *phen.ID)
	assert.Equal(t, "minted", phen.Status)
}

func TestPromote_NotFound(t *testing.T) {
	store := newFakeStore()
	reg := New(store, newEmbedder(8), Config{})
	err := reg.Promote(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPromote_NotProvisionalReturns409Style(t *testing.T) {
	store := newFakeStore()
	store.phenomena["p1"] = &models.Phenomenon{ID: "p1", Status: models.PhenomenonActive}
	reg := New(store, newEmbedder(8), Config{})
	err := reg.Promote(context.Background(), "p1")
	var notPromotable *ErrNotPromotable
	require.ErrorAs(t, err, &notPromotable)
	assert.Equal(t, "active", notPromotable.CurrentStatus)
}

func TestPromote_Succeeds(t *testing.T) {
	store := newFakeStore()
	store.phenomena["p1"] = &models.Phenomenon{ID: "p1", Status: models.PhenomenonProvisional}
	reg := New(store, newEmbedder(8), Config{})
	err := reg.Promote(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PhenomenonActive, store.statusSet["p1"])
}
