package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

// commentIDKeys mirrors original_source/database/backfill_comment_source_ids.py's
// COMMENT_ID_KEYS: the candidate field names a scraper's raw payload might
// carry the platform's native comment id under.
var commentIDKeys = []string{"source_comment_id", "comment_id", "id", "pk", "feedback_id", "media_id", "thread_id"}

var commentIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"comment_id"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"source_comment_id"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"id"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"pk"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"feedback_id"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"media_id"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"thread_id"\s*:\s*"([^"]+)"`),
}

// extractSourceCommentID best-effort recovers a native comment id from a
// comment's raw scraper payload, checking known keys first and falling
// back to a regex scan of the marshaled JSON.
func extractSourceCommentID(raw map[string]any) string {
	if raw == nil {
		return ""
	}
	for _, key := range commentIDKeys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	for _, pattern := range commentIDPatterns {
		if m := pattern.FindSubmatch(blob); m != nil {
			return string(m[1])
		}
	}
	return ""
}

// BackfillCommentSourceIDs recovers source_comment_id for legacy comment
// rows that never had one recorded, without touching the primary key.
// Grounded on original_source/database/backfill_comment_source_ids.py.
func (s *Store) BackfillCommentSourceIDs(ctx context.Context, limit int) (updated, scanned int, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, post_id, raw_json FROM threads_comments
		WHERE source_comment_id IS NULL LIMIT $1
	`, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("store: select comments missing source id: %w", err)
	}
	type row struct {
		id, postID string
		raw        []byte
	}
	var candidates []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.postID, &r.raw); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("store: scan backfill candidate: %w", err)
		}
		candidates = append(candidates, r)
	}
	closeErr := rows.Err()
	rows.Close()
	if closeErr != nil {
		return 0, 0, closeErr
	}

	for _, r := range candidates {
		scanned++
		var raw map[string]any
		_ = json.Unmarshal(r.raw, &raw)
		candidate := extractSourceCommentID(raw)
		if candidate == "" {
			continue
		}
		tag, err := s.pool.Exec(ctx, `
			UPDATE threads_comments SET source_comment_id = $1 WHERE id = $2 AND post_id = $3
		`, candidate, r.id, r.postID)
		if err != nil {
			return updated, scanned, fmt.Errorf("store: update source_comment_id for %s: %w", r.id, err)
		}
		if tag.RowsAffected() > 0 {
			updated++
		}
	}
	return updated, scanned, nil
}

// fallbackCommentID derives a deterministic id for a raw comment blob
// lacking any native id field, matching original_source/database/
// backfill_comments_from_posts.py's fallback_comment_id hash construction.
func fallbackCommentID(postID string, raw map[string]any) string {
	author, _ := raw["author"].(string)
	if author == "" {
		author, _ = raw["author_handle"].(string)
	}
	text, _ := raw["text"].(string)
	created, _ := raw["created_at"].(string)
	sum := sha256.Sum256([]byte(postID + "|" + author + "|" + text + "|" + created))
	return hex.EncodeToString(sum[:])
}

// BackfillCommentsFromPosts replays threads_posts.raw_comments into
// threads_comments for posts ingested before the comment table existed
// (or whose comments were otherwise never projected out). dryRun counts
// without writing. Grounded on original_source/database/
// backfill_comments_from_posts.py.
func (s *Store) BackfillCommentsFromPosts(ctx context.Context, limit int, postID string, dryRun bool) (processedPosts, insertedComments int, err error) {
	query := `SELECT id, raw_comments FROM threads_posts`
	args := []any{}
	if postID != "" {
		query += ` WHERE id = $1`
		args = append(args, postID)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("store: select posts for comment backfill: %w", err)
	}
	type row struct {
		id  string
		raw []byte
	}
	var posts []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.raw); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("store: scan post for comment backfill: %w", err)
		}
		posts = append(posts, r)
	}
	closeErr := rows.Err()
	rows.Close()
	if closeErr != nil {
		return 0, 0, closeErr
	}

	for _, r := range posts {
		processedPosts++
		var rawComments []map[string]any
		if err := json.Unmarshal(r.raw, &rawComments); err != nil || len(rawComments) == 0 {
			continue
		}
		comments := make([]models.Comment, 0, len(rawComments))
		for _, c := range rawComments {
			id, _ := c["id"].(string)
			if id == "" {
				id, _ = c["comment_id"].(string)
			}
			if id == "" {
				id = fallbackCommentID(r.id, c)
			}
			comment := models.Comment{
				ID:      id,
				PostID:  r.id,
				RawJSON: c,
			}
			if text, ok := c["text"].(string); ok {
				comment.Text = text
			}
			if handle, ok := firstString(c, "author_handle", "user", "author"); ok {
				comment.AuthorHandle = &handle
			}
			if likes, ok := c["like_count"].(float64); ok {
				comment.LikeCount = int(likes)
			} else if likes, ok := c["likes"].(float64); ok {
				comment.LikeCount = int(likes)
			}
			if replies, ok := c["reply_count"].(float64); ok {
				comment.ReplyCount = int(replies)
			} else if replies, ok := c["replies"].(float64); ok {
				comment.ReplyCount = int(replies)
			}
			comments = append(comments, comment)
		}
		insertedComments += len(comments)
		if !dryRun && len(comments) > 0 {
			if err := s.UpsertComments(ctx, comments); err != nil {
				return processedPosts, insertedComments, fmt.Errorf("store: backfill upsert comments for post %s: %w", r.id, err)
			}
		}
	}
	return processedPosts, insertedComments, nil
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
