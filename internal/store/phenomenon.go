package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/phenomenon"
)

// Phenomena satisfies phenomenon.Store: this is the Postgres-backed
// implementation the registry (C3) runs its Match-or-Mint protocol
// against. It is a thin adapter over *Store so the registry can depend on
// the narrow interface rather than the whole repository surface.
type Phenomena struct {
	store *Store
}

// NewPhenomenaStore builds the phenomenon.Store adapter.
func NewPhenomenaStore(s *Store) *Phenomena { return &Phenomena{store: s} }

var _ phenomenon.Store = (*Phenomena)(nil)

// CandidatesForMatch loads every registry row's embedding for the
// similarity scan. The registry space is expected to stay small enough
// (thousands, not millions) for a full scan; a vector index is the
// obvious next step once it isn't.
func (p *Phenomena) CandidatesForMatch(ctx context.Context) ([]phenomenon.Candidate, error) {
	rows, err := p.store.pool.Query(ctx, `SELECT id, embedding FROM narrative_phenomena`)
	if err != nil {
		return nil, fmt.Errorf("store: candidates for match: %w", err)
	}
	defer rows.Close()

	var out []phenomenon.Candidate
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("store: scan candidate: %w", err)
		}
		var emb []float64
		if err := json.Unmarshal(raw, &emb); err != nil || len(emb) == 0 {
			continue
		}
		out = append(out, phenomenon.Candidate{ID: id, Embedding: emb})
	}
	return out, rows.Err()
}

// GetPhenomenon loads a registry row by id, returning nil (not an error)
// when it doesn't exist.
func (p *Phenomena) GetPhenomenon(ctx context.Context, id string) (*models.Phenomenon, error) {
	var (
		phen                models.Phenomenon
		status              string
		embRaw              []byte
		canonicalName, desc *string
		mintedBy            *string
	)
	err := p.store.pool.QueryRow(ctx, `
		SELECT id, canonical_name, description, status, embedding, occurrence_count,
		       minted_by_case_id, created_at
		FROM narrative_phenomena WHERE id = $1
	`, id).Scan(&phen.ID, &canonicalName, &desc, &status, &embRaw, &phen.OccurrenceCount,
		&mintedBy, &phen.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get phenomenon: %w", err)
	}
	phen.CanonicalName = canonicalName
	phen.Description = desc
	phen.MintedByCaseID = mintedBy
	phen.Status = models.ParsePhenomenonStatus(status)
	_ = json.Unmarshal(embRaw, &phen.Embedding)
	return &phen, nil
}

// UpsertPhenomenon writes a match-or-mint decision: a brand-new mint on
// first write, or an update to an existing row's mutable fields.
func (p *Phenomena) UpsertPhenomenon(ctx context.Context, in phenomenon.UpsertInput) error {
	emb, err := json.Marshal(in.Embedding)
	if err != nil {
		return fmt.Errorf("store: marshal phenomenon embedding: %w", err)
	}
	_, err = p.store.pool.Exec(ctx, `
		INSERT INTO narrative_phenomena (id, canonical_name, description, status, embedding, minted_by_case_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			canonical_name = COALESCE(EXCLUDED.canonical_name, narrative_phenomena.canonical_name),
			description = COALESCE(EXCLUDED.description, narrative_phenomena.description),
			status = EXCLUDED.status,
			embedding = EXCLUDED.embedding
	`, in.ID, in.CanonicalName, in.Description, string(in.Status), emb, in.MintedByCaseID)
	if err != nil {
		return fmt.Errorf("store: upsert phenomenon: %w", err)
	}
	return nil
}

// IncrementOccurrence bumps a phenomenon's occurrence counter.
func (p *Phenomena) IncrementOccurrence(ctx context.Context, id string) error {
	_, err := p.store.pool.Exec(ctx, `
		UPDATE narrative_phenomena SET occurrence_count = occurrence_count + 1 WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("store: increment occurrence: %w", err)
	}
	return nil
}

// SetStatus transitions a phenomenon's status, used by Promote.
func (p *Phenomena) SetStatus(ctx context.Context, id string, status models.PhenomenonStatus) error {
	_, err := p.store.pool.Exec(ctx, `
		UPDATE narrative_phenomena SET status = $1 WHERE id = $2
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("store: set phenomenon status: %w", err)
	}
	return nil
}

// ListPhenomena returns registry rows for the library listing endpoint,
// optionally filtered by status and a case-insensitive name/description
// substring match, newest first.
func (p *Phenomena) ListPhenomena(ctx context.Context, status, q string) ([]models.Phenomenon, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if status != "" {
		args = append(args, status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if q != "" {
		args = append(args, "%"+q+"%")
		clauses = append(clauses, fmt.Sprintf("(canonical_name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	query := fmt.Sprintf(`
		SELECT id, canonical_name, description, status, occurrence_count,
		       minted_by_case_id, created_at
		FROM narrative_phenomena
		WHERE %s
		ORDER BY created_at DESC
	`, strings.Join(clauses, " AND "))

	rows, err := p.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list phenomena: %w", err)
	}
	defer rows.Close()

	var out []models.Phenomenon
	for rows.Next() {
		var (
			phen                models.Phenomenon
			statusVal           string
			canonicalName, desc *string
			mintedBy            *string
		)
		if err := rows.Scan(&phen.ID, &canonicalName, &desc, &statusVal, &phen.OccurrenceCount,
			&mintedBy, &phen.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan phenomenon: %w", err)
		}
		phen.CanonicalName = canonicalName
		phen.Description = desc
		phen.MintedByCaseID = mintedBy
		phen.Status = models.ParsePhenomenonStatus(statusVal)
		out = append(out, phen)
	}
	return out, rows.Err()
}

// PostsForPhenomenon returns the most recently updated posts whose
// phenomenon block references id, for the phenomenon detail endpoint.
func (p *Phenomena) PostsForPhenomenon(ctx context.Context, id string, limit int) ([]models.Post, error) {
	rows, err := p.store.pool.Query(ctx, `
		SELECT id, url, author, post_text, engagement, images, raw_comments,
		       cluster_summary, analysis_json, full_report, analysis_is_valid,
		       analysis_version, analysis_build_id, analysis_invalid_reason,
		       analysis_missing_keys, phenomenon, archive, vision, enrichment,
		       created_at, updated_at
		FROM threads_posts
		WHERE phenomenon->>'id' = $1
		ORDER BY updated_at DESC LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("store: posts for phenomenon: %w", err)
	}
	defer rows.Close()

	var out []models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *post)
	}
	return out, rows.Err()
}

// SyncOccurrenceCounts recomputes every registry row's occurrence_count
// from the posts that actually reference it, minting a provisional
// registry row for any phenomenon id a post references but the registry
// has never recorded. Grounded on original_source/database/
// sync_registry.py's aggregate-then-upsert pass (there run against
// Supabase directly; here the same reconciliation over threads_posts'
// phenomenon->>'id').
func (p *Phenomena) SyncOccurrenceCounts(ctx context.Context) (int, error) {
	rows, err := p.store.pool.Query(ctx, `
		SELECT phenomenon->>'id' AS phenomenon_id, COUNT(*),
		       MAX(phenomenon->>'case_id')
		FROM threads_posts
		WHERE phenomenon->>'id' IS NOT NULL
		GROUP BY phenomenon->>'id'
	`)
	if err != nil {
		return 0, fmt.Errorf("store: aggregate phenomenon occurrences: %w", err)
	}
	defer rows.Close()

	type agg struct {
		id       string
		count    int
		lastCase *string
	}
	var aggregates []agg
	for rows.Next() {
		var a agg
		if err := rows.Scan(&a.id, &a.count, &a.lastCase); err != nil {
			return 0, fmt.Errorf("store: scan phenomenon aggregate: %w", err)
		}
		aggregates = append(aggregates, a)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, a := range aggregates {
		tag, err := p.store.pool.Exec(ctx, `
			UPDATE narrative_phenomena SET occurrence_count = $1 WHERE id = $2
		`, a.count, a.id)
		if err != nil {
			return updated, fmt.Errorf("store: update occurrence count for %s: %w", a.id, err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := p.store.pool.Exec(ctx, `
				INSERT INTO narrative_phenomena (id, status, occurrence_count, minted_by_case_id)
				VALUES ($1, 'provisional', $2, $3)
				ON CONFLICT (id) DO NOTHING
			`, a.id, a.count, a.lastCase); err != nil {
				return updated, fmt.Errorf("store: mint registry row for %s: %w", a.id, err)
			}
		}
		updated++
	}
	return updated, nil
}
