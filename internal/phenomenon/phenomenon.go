// Package phenomenon implements the global narrative phenomenon registry
// (C3): the Match-or-Mint protocol that either links a post's evidence
// fingerprint to an existing phenomenon or deterministically mints a new
// one, plus the provisional-to-active promotion workflow. Grounded on
// original_source/analysis/phenomenon_enricher.py's PhenomenonEnricher
// (_match_or_mint, _patch_analysis) and original_source/webapp/routers/
// api.py's promote_phenomenon (the provisional-only 409 guard).
package phenomenon

import (
	"context"
	"fmt"
	"strings"

	"github.com/jasonmaxxxon/discourse-lens/internal/fingerprint"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/quant"
)

// ErrNotFound is returned when a phenomenon id has no registry row.
var ErrNotFound = fmt.Errorf("phenomenon: not found")

// ErrNotPromotable is returned when Promote is attempted on a phenomenon
// whose status is not "provisional".
type ErrNotPromotable struct {
	CurrentStatus string
}

func (e *ErrNotPromotable) Error() string {
	return fmt.Sprintf("cannot promote from status %q", e.CurrentStatus)
}

// Candidate is a registry row with its embedding, as loaded for a
// similarity scan.
type Candidate struct {
	ID        string
	Embedding []float64
}

// UpsertInput is the registry row written after a match-or-mint decision.
type UpsertInput struct {
	ID              string
	CanonicalName   *string
	Description     *string
	Status          models.PhenomenonStatus
	MintedByCaseID  *string
	Embedding       []float64
}

// Store is the persistence contract the registry needs. internal/store
// implements it against Postgres.
type Store interface {
	CandidatesForMatch(ctx context.Context) ([]Candidate, error)
	GetPhenomenon(ctx context.Context, id string) (*models.Phenomenon, error)
	UpsertPhenomenon(ctx context.Context, in UpsertInput) error
	IncrementOccurrence(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status models.PhenomenonStatus) error
}

// Config tunes the match threshold/fan-out.
type Config struct {
	MatchThreshold float64
	MatchTopK      int
}

// Registry is the phenomenon Match-or-Mint service.
type Registry struct {
	store    Store
	embedder *fingerprint.Embedder
	cfg      Config
}

// New builds a Registry.
func New(store Store, embedder *fingerprint.Embedder, cfg Config) *Registry {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 0.86
	}
	if cfg.MatchTopK <= 0 {
		cfg.MatchTopK = 5
	}
	return &Registry{store: store, embedder: embedder, cfg: cfg}
}

// MatchOrMint embeds the bundle's fingerprint, searches the registry for
// a semantically close existing phenomenon, and either matches it or
// mints a new deterministic id. A vector-search failure degrades to
// minting rather than failing the caller, mirroring the enricher's
// "fallback to mint" behavior.
func (r *Registry) MatchOrMint(ctx context.Context, bundle fingerprint.EvidenceBundle) (models.MatchResult, error) {
	deterministicID := fingerprint.DeterministicPhenomenonID(bundle.Fingerprint)

	emb, err := r.embedder.Embed(ctx, bundle.Fingerprint)
	if err != nil {
		return models.MatchResult{
			Outcome:      models.OutcomeMinted,
			PhenomenonID: deterministicID,
			Confidence:   100.0,
			CaseID:       bundle.CaseID,
		}, nil
	}

	candidates, err := r.store.CandidatesForMatch(ctx)
	if err == nil && len(candidates) > 0 {
		bestID, bestScore := r.topMatch(emb, candidates)
		if bestID != "" && bestScore >= r.cfg.MatchThreshold {
			return models.MatchResult{
				Outcome:      models.OutcomeMatched,
				PhenomenonID: bestID,
				Confidence:   bestScore * 100,
				CaseID:       bundle.CaseID,
			}, nil
		}
	}

	if err := r.store.UpsertPhenomenon(ctx, UpsertInput{
		ID:        deterministicID,
		Status:    models.PhenomenonProvisional,
		Embedding: emb,
	}); err != nil {
		return models.MatchResult{}, fmt.Errorf("phenomenon: mint upsert: %w", err)
	}
	return models.MatchResult{
		Outcome:      models.OutcomeMinted,
		PhenomenonID: deterministicID,
		Confidence:   100.0,
		CaseID:       bundle.CaseID,
	}, nil
}

// topMatch scores every candidate by cosine similarity to query and
// returns the single best id/score. MatchTopK is not consulted here, and
// internal/store's CandidatesForMatch hands back every registry row that
// has an embedding.
func (r *Registry) topMatch(query []float64, candidates []Candidate) (string, float64) {
	best, bestScore := "", -1.0
	for _, c := range candidates {
		score := quant.CosineSimilarity(query, c.Embedding)
		if score > bestScore {
			bestScore = score
			best = c.ID
		}
	}
	return best, bestScore
}

// PatchAnalysisPhenomenon applies a match result onto an analysis
// payload's phenomenon block, unless that block already carries a
// finalized status (anything other than pending/failed/provisional/unset
// — I5 monotonicity).
func PatchAnalysisPhenomenon(phen *models.AnalysisPhenomenon, match models.MatchResult) {
	existingStatus := ""
	if phen.Status != "" {
		existingStatus = strings.ToLower(phen.Status)
	}
	switch existingStatus {
	case "", "pending", "failed", "provisional":
		id := match.PhenomenonID
		phen.ID = &id
		phen.Status = string(match.Outcome)
	}
}

// Promote transitions a phenomenon from provisional to active. Returns
// ErrNotFound if the id is unknown, and *ErrNotPromotable if the current
// status isn't "provisional" — the only governance-reviewed transition
// allowed (original_source's 409 guard).
func (r *Registry) Promote(ctx context.Context, id string) error {
	p, err := r.store.GetPhenomenon(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	if p.Status != models.PhenomenonProvisional {
		return &ErrNotPromotable{CurrentStatus: string(p.Status)}
	}
	return r.store.SetStatus(ctx, id, models.PhenomenonActive)
}

// RecordOccurrence increments a phenomenon's occurrence counter; callers
// treat a failure here as non-fatal (registry bookkeeping, not pipeline
// correctness).
func (r *Registry) RecordOccurrence(ctx context.Context, id string) error {
	return r.store.IncrementOccurrence(ctx, id)
}
