// Package commentmapper implements the L0.5 quantitative structure
// mapper (C2): it embeds comment text, clusters and projects it to 2D,
// flags template-like "echo" replies, and assembles the per-cluster
// payload the fingerprint/registry stages and the UI consume. Grounded
// on original_source/analysis/quant_engine.py's perform_structure_mapping,
// re-expressed over internal/quant instead of numpy/scikit-learn.
package commentmapper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators"
	"github.com/jasonmaxxxon/discourse-lens/internal/quant"
)

// MinCommentLen is the minimum trimmed comment length considered for
// semantic clustering; shorter comments are enriched with placeholder
// quant fields but excluded from embedding/clustering.
const MinCommentLen = 5

const echoSimilarityThreshold = 0.94
const echoMinTextLen = 8

var keywordPattern = regexp.MustCompile(`[A-Za-z0-9#@']{3,}`)

// InputComment is one raw comment as fetched by the scraper, prior to
// quant enrichment.
type InputComment struct {
	ID        string
	Author    string
	Text      string
	LikeCount int
	Raw       map[string]any
}

// EnrichedComment mirrors InputComment plus the backfilled quant fields.
type EnrichedComment struct {
	InputComment
	QuantClusterID int
	QuantX         float64
	QuantY         float64
	IsTemplateLike bool
	ClusterID      *string
	ClusterLabel   *string
}

// Cluster is one comment-cluster payload, keyed by an integer label
// within a post.
type Cluster struct {
	ClusterKey        int
	Label             string
	Summary           *string
	Size              int
	Keywords          []string
	TopCommentIDs     []string
	CentroidEmbedding []float64
}

// Assignment is one comment's cluster membership, written back to the
// store only when persistence is enabled.
type Assignment struct {
	CommentID    string
	ClusterKey   int
	ClusterLabel string
	ClusterID    string
}

// Result is the full output of MapStructure.
type Result struct {
	Comments        []EnrichedComment
	ClusterStats    map[int]int
	HighSimPairs    int
	MathHomogeneity float64
	Clusters        []Cluster
	Assignments     []Assignment
	NClusters       int
}

// DeterministicCommentID mirrors the store's fallback id recipe so quant
// assignments line up with persisted comment rows even when the scraper
// never gave the comment a native id.
func DeterministicCommentID(postID, author, text string) string {
	raw := fmt.Sprintf("%s:%s:%s", postID, author, normalizeForID(text))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func normalizeForID(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

func commentID(postID string, c InputComment) string {
	if c.ID != "" {
		return c.ID
	}
	return DeterministicCommentID(postID, c.Author, c.Text)
}

func clusterID(postID string, clusterKey int) string {
	return fmt.Sprintf("%s::c%d", postID, clusterKey)
}

func topKeywords(texts []string, topN int) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range texts {
		for _, tok := range keywordPattern.FindAllString(strings.ToLower(t), -1) {
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

// MapStructure embeds, clusters, and projects the valid comments of a
// post (seed is the fixed k-means seed; production callers always pass 42
// to match the original's random_state), then assembles cluster payloads
// and assignments. Returns nil only for an empty input; if no comment
// passes the minimum-length filter it returns a non-nil Result with no
// clusters.
func MapStructure(ctx context.Context, postID string, comments []InputComment, embedder collaborators.EmbeddingClient, seed int64) (*Result, error) {
	if len(comments) == 0 {
		return nil, nil
	}

	enriched := make([]EnrichedComment, len(comments))
	for i, c := range comments {
		enriched[i] = EnrichedComment{InputComment: c, QuantClusterID: -1}
	}

	var validIdx []int
	var validTexts []string
	for i, c := range comments {
		if len(strings.TrimSpace(c.Text)) >= MinCommentLen {
			validIdx = append(validIdx, i)
			validTexts = append(validTexts, strings.TrimSpace(c.Text))
		}
	}
	if len(validTexts) == 0 {
		return &Result{Comments: enriched, ClusterStats: map[int]int{}, MathHomogeneity: 1.0}, nil
	}

	embeddings := make([][]float64, len(validTexts))
	for i, text := range validTexts {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("commentmapper: embed comment %d: %w", i, err)
		}
		embeddings[i] = vec
	}

	coords := quant.PCA2(embeddings)

	count := len(validTexts)
	nClusters := quant.ClusterCount(count)
	var labels []int
	if count < 3 {
		labels = make([]int, count)
		nClusters = 1
	} else {
		labels = quant.KMeans(embeddings, nClusters, seed)
	}

	echoSet := make(map[int]bool)
	highSimPairs := 0
	if count >= 2 {
		sim := quant.SimilarityMatrix(embeddings)
		for i := 0; i < count; i++ {
			for j := i + 1; j < count; j++ {
				if sim[i][j] <= echoSimilarityThreshold {
					continue
				}
				if len(validTexts[i]) < echoMinTextLen {
					continue
				}
				ui := strings.TrimSpace(comments[validIdx[i]].Author)
				uj := strings.TrimSpace(comments[validIdx[j]].Author)
				if ui == "" || uj == "" || ui == uj {
					continue
				}
				echoSet[validIdx[i]] = true
				echoSet[validIdx[j]] = true
				highSimPairs++
			}
		}
	}

	for i, origIdx := range validIdx {
		enriched[origIdx].QuantClusterID = labels[i]
		enriched[origIdx].QuantX = round4(coords[i][0])
		enriched[origIdx].QuantY = round4(coords[i][1])
		enriched[origIdx].IsTemplateLike = echoSet[origIdx]
	}

	clusterStats := make(map[int]int)
	for _, l := range labels {
		clusterStats[l]++
	}
	totalClustered := 0
	dominant := 0
	for _, n := range clusterStats {
		totalClustered += n
		if n > dominant {
			dominant = n
		}
	}
	mathHomogeneity := 1.0
	if totalClustered > 0 {
		mathHomogeneity = round2(float64(dominant) / float64(totalClustered))
	}

	membersByLabel := make(map[int][]int)
	embeddingByOrigIdx := make(map[int][]float64, len(validIdx))
	for i, l := range labels {
		membersByLabel[l] = append(membersByLabel[l], validIdx[i])
		embeddingByOrigIdx[validIdx[i]] = embeddings[i]
	}

	var clusters []Cluster
	clusterLabels := make(map[int]string)
	labelKeys := make([]int, 0, len(membersByLabel))
	for k := range membersByLabel {
		labelKeys = append(labelKeys, k)
	}
	sort.Ints(labelKeys)

	for _, labInt := range labelKeys {
		members := membersByLabel[labInt]
		memberTexts := make([]string, len(members))
		memberEmbeddings := make([][]float64, len(members))
		for vi, origIdx := range members {
			memberTexts[vi] = comments[origIdx].Text
			memberEmbeddings[vi] = embeddingByOrigIdx[origIdx]
		}

		sortedMembers := append([]int(nil), members...)
		sort.SliceStable(sortedMembers, func(a, b int) bool {
			return comments[sortedMembers[a]].LikeCount > comments[sortedMembers[b]].LikeCount
		})
		topIDs := make([]string, 0, len(sortedMembers))
		for _, origIdx := range sortedMembers {
			topIDs = append(topIDs, commentID(postID, comments[origIdx]))
		}
		if len(topIDs) > 5 {
			topIDs = topIDs[:5]
		}

		label := "Cluster " + strconv.Itoa(labInt)
		clusterLabels[labInt] = label
		clusters = append(clusters, Cluster{
			ClusterKey:        labInt,
			Label:             label,
			Size:              len(members),
			Keywords:          topKeywords(memberTexts, 6),
			TopCommentIDs:     topIDs,
			CentroidEmbedding: quant.Centroid(memberEmbeddings),
		})
	}

	var assignments []Assignment
	for i, origIdx := range validIdx {
		labInt := labels[i]
		if labInt < 0 {
			continue
		}
		assignments = append(assignments, Assignment{
			CommentID:    commentID(postID, comments[origIdx]),
			ClusterKey:   labInt,
			ClusterLabel: clusterLabels[labInt],
			ClusterID:    clusterID(postID, labInt),
		})
		cid := clusterID(postID, labInt)
		lbl := clusterLabels[labInt]
		enriched[origIdx].ClusterID = &cid
		enriched[origIdx].ClusterLabel = &lbl
	}

	return &Result{
		Comments:        enriched,
		ClusterStats:    clusterStats,
		HighSimPairs:    highSimPairs,
		MathHomogeneity: mathHomogeneity,
		Clusters:        clusters,
		Assignments:     assignments,
		NClusters:       nClusters,
	}, nil
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func round4(f float64) float64 {
	neg := f < 0
	if neg {
		f = -f
	}
	r := float64(int(f*10000+0.5)) / 10000
	if neg {
		r = -r
	}
	return r
}
