package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

// UpsertPost writes a post keyed on its canonical URL (I3): a re-ingest of
// an already-known URL updates the existing row rather than duplicating it.
func (s *Store) UpsertPost(ctx context.Context, p *models.Post) error {
	engagement, err := json.Marshal(p.Engagement)
	if err != nil {
		return fmt.Errorf("store: marshal engagement: %w", err)
	}
	images, err := json.Marshal(p.Images)
	if err != nil {
		return fmt.Errorf("store: marshal images: %w", err)
	}
	rawComments, err := json.Marshal(p.RawComments)
	if err != nil {
		return fmt.Errorf("store: marshal raw_comments: %w", err)
	}
	clusterSummary, err := json.Marshal(p.ClusterSummary)
	if err != nil {
		return fmt.Errorf("store: marshal cluster_summary: %w", err)
	}
	analysisJSON, err := json.Marshal(p.AnalysisJSON)
	if err != nil {
		return fmt.Errorf("store: marshal analysis_json: %w", err)
	}
	missingKeys, err := json.Marshal(p.AnalysisMissingKeys)
	if err != nil {
		return fmt.Errorf("store: marshal missing_keys: %w", err)
	}
	phenomenon, err := json.Marshal(p.Phenomenon)
	if err != nil {
		return fmt.Errorf("store: marshal phenomenon: %w", err)
	}
	archive, err := json.Marshal(p.Archive)
	if err != nil {
		return fmt.Errorf("store: marshal archive: %w", err)
	}
	vision, err := json.Marshal(p.Vision)
	if err != nil {
		return fmt.Errorf("store: marshal vision: %w", err)
	}
	enrichment, err := json.Marshal(p.Enrichment)
	if err != nil {
		return fmt.Errorf("store: marshal enrichment: %w", err)
	}

	return s.pool.QueryRow(ctx, `
		INSERT INTO threads_posts (
			id, url, author, post_text, engagement, images, raw_comments,
			cluster_summary, analysis_json, full_report, analysis_is_valid,
			analysis_version, analysis_build_id, analysis_invalid_reason,
			analysis_missing_keys, phenomenon, archive, vision, enrichment
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (url) DO UPDATE SET
			author = EXCLUDED.author,
			post_text = EXCLUDED.post_text,
			engagement = EXCLUDED.engagement,
			images = EXCLUDED.images,
			raw_comments = EXCLUDED.raw_comments,
			cluster_summary = EXCLUDED.cluster_summary,
			analysis_json = EXCLUDED.analysis_json,
			full_report = EXCLUDED.full_report,
			analysis_is_valid = EXCLUDED.analysis_is_valid,
			analysis_version = EXCLUDED.analysis_version,
			analysis_build_id = EXCLUDED.analysis_build_id,
			analysis_invalid_reason = EXCLUDED.analysis_invalid_reason,
			analysis_missing_keys = EXCLUDED.analysis_missing_keys,
			phenomenon = EXCLUDED.phenomenon,
			archive = EXCLUDED.archive,
			vision = EXCLUDED.vision,
			enrichment = EXCLUDED.enrichment,
			updated_at = now()
		RETURNING id
	`, p.ID, p.URL, p.Author, p.PostText, engagement, images, rawComments,
		clusterSummary, analysisJSON, p.FullReport, p.AnalysisIsValid,
		p.AnalysisVersion, p.AnalysisBuildID, p.AnalysisInvalidReason,
		missingKeys, phenomenon, archive, vision, enrichment).Scan(&p.ID)
}

// GetPostByURL looks up a post by its canonical URL, for Pipeline B's
// dedup/reprocess-policy check.
func (s *Store) GetPostByURL(ctx context.Context, url string) (*models.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT id FROM threads_posts WHERE url = $1`, url)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get post by url: %w", err)
	}
	return s.GetPost(ctx, id)
}

// GetPostByShortcode does an ILIKE search on the trailing path segment of
// the canonical URL, for the pipeline's post-id recovery fallback when an
// exact URL match misses (e.g. a tracking-parameter variant was ingested
// previously under a slightly different URL).
func (s *Store) GetPostByShortcode(ctx context.Context, shortcode string) (*models.Post, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id FROM threads_posts WHERE url ILIKE '%' || $1 ORDER BY updated_at DESC LIMIT 1
	`, shortcode)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get post by shortcode: %w", err)
	}
	return s.GetPost(ctx, id)
}

// GetPost loads a post by id, including its full analysis payload.
func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, url, author, post_text, engagement, images, raw_comments,
		       cluster_summary, analysis_json, full_report, analysis_is_valid,
		       analysis_version, analysis_build_id, analysis_invalid_reason,
		       analysis_missing_keys, phenomenon, archive, vision, enrichment,
		       created_at, updated_at
		FROM threads_posts WHERE id = $1
	`, id)
	return scanPost(row)
}

// ListPosts returns the most recently updated posts, capped at limit.
func (s *Store) ListPosts(ctx context.Context, limit int) ([]models.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, author, post_text, engagement, images, raw_comments,
		       cluster_summary, analysis_json, full_report, analysis_is_valid,
		       analysis_version, analysis_build_id, analysis_invalid_reason,
		       analysis_missing_keys, phenomenon, archive, vision, enrichment,
		       created_at, updated_at
		FROM threads_posts ORDER BY updated_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list posts: %w", err)
	}
	defer rows.Close()

	var out []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p                                           models.Post
		engagement, images, rawComments             []byte
		clusterSummary, analysisJSON, missingKeys    []byte
		phenomenon, archive, vision, enrichment      []byte
	)
	if err := row.Scan(&p.ID, &p.URL, &p.Author, &p.PostText, &engagement, &images, &rawComments,
		&clusterSummary, &analysisJSON, &p.FullReport, &p.AnalysisIsValid,
		&p.AnalysisVersion, &p.AnalysisBuildID, &p.AnalysisInvalidReason,
		&missingKeys, &phenomenon, &archive, &vision, &enrichment,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan post: %w", err)
	}
	_ = json.Unmarshal(engagement, &p.Engagement)
	_ = json.Unmarshal(images, &p.Images)
	_ = json.Unmarshal(rawComments, &p.RawComments)
	_ = json.Unmarshal(clusterSummary, &p.ClusterSummary)
	_ = json.Unmarshal(analysisJSON, &p.AnalysisJSON)
	_ = json.Unmarshal(missingKeys, &p.AnalysisMissingKeys)
	_ = json.Unmarshal(phenomenon, &p.Phenomenon)
	_ = json.Unmarshal(archive, &p.Archive)
	_ = json.Unmarshal(vision, &p.Vision)
	_ = json.Unmarshal(enrichment, &p.Enrichment)
	return &p, nil
}

// UpsertComments bulk-writes a post's comments, keyed on the comment's
// (possibly deterministic-hash-derived) id (I4).
func (s *Store) UpsertComments(ctx context.Context, comments []models.Comment) error {
	batch := &pgxBatch{}
	for _, c := range comments {
		raw, err := json.Marshal(c.RawJSON)
		if err != nil {
			return fmt.Errorf("store: marshal comment raw_json: %w", err)
		}
		batch.queue(`
			INSERT INTO threads_comments (
				id, post_id, source_comment_id, parent_source_comment_id, author_handle,
				author_id, text, like_count, reply_count, created_at, captured_at, raw_json,
				cluster_id, cluster_key, quant_cluster_id, quant_x, quant_y, is_template_like
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (id) DO UPDATE SET
				source_comment_id = EXCLUDED.source_comment_id,
				like_count = EXCLUDED.like_count,
				reply_count = EXCLUDED.reply_count,
				cluster_id = EXCLUDED.cluster_id,
				cluster_key = EXCLUDED.cluster_key,
				quant_cluster_id = EXCLUDED.quant_cluster_id,
				quant_x = EXCLUDED.quant_x,
				quant_y = EXCLUDED.quant_y,
				is_template_like = EXCLUDED.is_template_like
		`, c.ID, c.PostID, c.SourceCommentID, c.ParentSourceCommentID, c.AuthorHandle,
			c.AuthorID, c.Text, c.LikeCount, c.ReplyCount, c.CreatedAt, c.CapturedAt, raw,
			c.ClusterID, c.ClusterKey, c.QuantClusterID, c.QuantX, c.QuantY, c.IsTemplateLike)
	}
	return batch.send(ctx, s.pool)
}

// CommentSort selects the ordering for CommentsByPost's pagination.
type CommentSort string

const (
	CommentSortLikes CommentSort = "likes"
	CommentSortTime  CommentSort = "time"
)

// ParseCommentSort coerces a wire value, defaulting to CommentSortLikes.
func ParseCommentSort(s string) CommentSort {
	if CommentSort(s) == CommentSortTime {
		return CommentSortTime
	}
	return CommentSortLikes
}

// CommentsByPost returns a page of comments under a post, ordered per
// sort (engagement likes or capture time, newest first), bounded by
// limit/offset.
func (s *Store) CommentsByPost(ctx context.Context, postID string, sort CommentSort, limit, offset int) ([]models.Comment, error) {
	orderBy := "like_count DESC"
	if sort == CommentSortTime {
		orderBy = "captured_at DESC"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, post_id, source_comment_id, parent_source_comment_id, author_handle,
		       author_id, text, like_count, reply_count, created_at, captured_at, raw_json,
		       cluster_id, cluster_key, quant_cluster_id, quant_x, quant_y, is_template_like
		FROM threads_comments WHERE post_id = $1 ORDER BY %s LIMIT $2 OFFSET $3
	`, orderBy), postID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: comments by post: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

// CommentSearchFilter narrows SearchComments by author and/or post, on top
// of the trigram text query.
type CommentSearchFilter struct {
	Query  string
	Author string
	PostID string
}

// SearchComments performs a trigram similarity search over comment text,
// optionally narrowed by author handle and/or post id.
func (s *Store) SearchComments(ctx context.Context, f CommentSearchFilter, limit int) ([]models.Comment, error) {
	clauses := []string{"text % $1"}
	args := []any{f.Query}
	if f.Author != "" {
		args = append(args, f.Author)
		clauses = append(clauses, fmt.Sprintf("author_handle = $%d", len(args)))
	}
	if f.PostID != "" {
		args = append(args, f.PostID)
		clauses = append(clauses, fmt.Sprintf("post_id = $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, post_id, source_comment_id, parent_source_comment_id, author_handle,
		       author_id, text, like_count, reply_count, created_at, captured_at, raw_json,
		       cluster_id, cluster_key, quant_cluster_id, quant_x, quant_y, is_template_like
		FROM threads_comments
		WHERE %s
		ORDER BY similarity(text, $1) DESC
		LIMIT $%d
	`, strings.Join(clauses, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search comments: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

func scanComments(rows pgx.Rows) ([]models.Comment, error) {
	var out []models.Comment
	for rows.Next() {
		var (
			c                                     models.Comment
			raw                                   []byte
			sourceCommentID, parentSourceCommentID *string
			authorHandle, authorID                *string
			clusterID                             *string
		)
		if err := rows.Scan(&c.ID, &c.PostID, &sourceCommentID, &parentSourceCommentID, &authorHandle,
			&authorID, &c.Text, &c.LikeCount, &c.ReplyCount, &c.CreatedAt, &c.CapturedAt, &raw,
			&clusterID, &c.ClusterKey, &c.QuantClusterID, &c.QuantX, &c.QuantY, &c.IsTemplateLike); err != nil {
			return nil, fmt.Errorf("store: scan comment: %w", err)
		}
		c.SourceCommentID = sourceCommentID
		c.ParentSourceCommentID = parentSourceCommentID
		c.AuthorHandle = authorHandle
		c.AuthorID = authorID
		c.ClusterID = clusterID
		_ = json.Unmarshal(raw, &c.RawJSON)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCommentClusters writes the Comment Structure Mapper's (C2) cluster
// payloads for a post, replacing any prior clustering.
func (s *Store) UpsertCommentClusters(ctx context.Context, postID string, clusters []models.CommentCluster) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert clusters begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM threads_comment_clusters WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("store: clear clusters: %w", err)
	}
	for _, c := range clusters {
		keywords, _ := json.Marshal(c.Keywords)
		topIDs, _ := json.Marshal(c.TopCommentIDs)
		centroid, _ := json.Marshal(c.CentroidEmbedding)
		tactics, _ := json.Marshal(c.Tactics)
		_, err := tx.Exec(ctx, `
			INSERT INTO threads_comment_clusters (
				post_id, cluster_key, label, summary, size, keywords, top_comment_ids,
				centroid_embedding, tactics, tactic_summary
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, postID, c.ClusterKey, c.Label, c.Summary, c.Size, keywords, topIDs, centroid, tactics, c.TacticSummary)
		if err != nil {
			return fmt.Errorf("store: insert cluster: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// SetCommentClusterAssignments idempotently writes a comment's cluster
// membership back onto the comment row (C2's optional persistence
// contract): safe to call repeatedly with the same assignment.
func (s *Store) SetCommentClusterAssignments(ctx context.Context, assignments []models.CommentAssignment) error {
	batch := &pgxBatch{}
	for _, a := range assignments {
		batch.queue(`
			UPDATE threads_comments SET cluster_id = $1, cluster_key = $2 WHERE id = $3
		`, a.ClusterID, a.ClusterKey, a.CommentID)
	}
	return batch.send(ctx, s.pool)
}
