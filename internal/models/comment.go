package models

import "time"

// Comment is one comment under a post. Identity is hybrid: a stable
// deterministic hash is preferred as ID; a later-observed native
// SourceCommentID is recorded alongside but never replaces the ID (I4).
type Comment struct {
	ID                      string
	PostID                  string
	SourceCommentID         *string
	ParentSourceCommentID   *string
	AuthorHandle            *string
	AuthorID                *string
	Text                    string
	LikeCount               int
	ReplyCount              int
	CreatedAt               *time.Time
	CapturedAt              time.Time
	RawJSON                 map[string]any
	ClusterID               *string
	ClusterKey              *int

	// Structural-mapper back-filled fields (C2).
	QuantClusterID  int
	QuantX          float64
	QuantY          float64
	IsTemplateLike  bool
}

// CommentCluster is a per-post cluster produced by the Comment Structure
// Mapper (C2). Primary key is (PostID, ClusterKey).
type CommentCluster struct {
	PostID            string
	ClusterKey        int
	Label             string
	Summary           *string
	Size              int
	Keywords          []string
	TopCommentIDs     []string
	CentroidEmbedding []float64
	Tactics           []string
	TacticSummary     *string
}

// CommentAssignment is the optional, idempotent write-back of a comment's
// cluster membership (C2 persistence contract).
type CommentAssignment struct {
	CommentID    string
	ClusterKey   int
	ClusterLabel string
	ClusterID    string
}
