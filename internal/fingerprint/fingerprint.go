// Package fingerprint builds the deterministic evidence bundle and
// case/fingerprint identifiers that drive the phenomenon registry's
// Match-or-Mint protocol (C1, feeding C3). Grounded line-for-line on
// original_source/analysis/phenomenon_fingerprint.py: unicode NFC
// normalization, the TRIGGER/ARTIFACT/REACTIONS template, and the
// deterministic cluster/reaction ordering rules that make two runs over
// the same post always produce the same fingerprint.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jasonmaxxxon/discourse-lens/internal/breaker"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators"
)

// Versioned constants, invariant by design — changing any of these
// changes every previously-computed fingerprint.
const (
	FingerprintVersion  = "v1"
	MatchRulesetVersion = "v1"
	RegistryVersion     = "v1"

	TriggerMaxLen       = 2400
	ArtifactMaxLen      = 2400
	ReactionMaxLen      = 3200
	TopMClusterSamples  = 3
	TopKGlobalReactions = 5
)

// NamespaceUUID is the fixed UUIDv5 namespace used to mint deterministic
// phenomenon ids from a fingerprint. Do not change.
var NamespaceUUID = uuid.MustParse("6a7a3bf7-5a3f-4d66-b78e-2d7c9f5b7c7b")

// Normalize applies the CDX-044.1 normalization rule: strip BOM, NFC
// normalize, collapse whitespace, trim, lowercase, and optionally
// truncate to maxLen runes (0 means unbounded). Emoji and punctuation are
// preserved.
func Normalize(text string, maxLen int) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "﻿", "")
	text = norm.NFC.String(text)
	text = strings.ToLower(strings.TrimSpace(collapseWhitespace(text)))
	if maxLen > 0 {
		r := []rune(text)
		if len(r) > maxLen {
			text = string(r[:maxLen])
		}
	}
	return text
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Sample is a single weighted evidence sample (a comment or cluster
// member) used for deterministic cluster ordering and reaction selection.
type Sample struct {
	Text      string
	LikeCount int
}

// ClusterInfo is the subset of a cluster-summary entry the fingerprint
// builder needs.
type ClusterInfo struct {
	Samples []Sample
	Size    float64
}

func likeKeyLess(a, b Sample) bool {
	if a.LikeCount != b.LikeCount {
		return a.LikeCount > b.LikeCount
	}
	return Normalize(a.Text, 0) < Normalize(b.Text, 0)
}

// ClusterSignatureHash computes the deterministic sha256 hash of the
// top-M samples in a cluster, ordered by like count desc then normalized
// text asc.
func ClusterSignatureHash(samples []Sample) string {
	ordered := append([]Sample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool { return likeKeyLess(ordered[i], ordered[j]) })
	if len(ordered) > TopMClusterSamples {
		ordered = ordered[:TopMClusterSamples]
	}
	var lines []string
	for _, s := range ordered {
		if s.Text != "" {
			lines = append(lines, Normalize(s.Text, 0))
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

type orderedCluster struct {
	id   string
	info ClusterInfo
	sig  string
}

// orderClusters sorts clusters by size desc, then signature hash asc —
// the same rule order_clusters uses to keep reaction-sample selection
// reproducible across runs.
func orderClusters(clusterSummary map[string]ClusterInfo) []orderedCluster {
	out := make([]orderedCluster, 0, len(clusterSummary))
	for id, info := range clusterSummary {
		out = append(out, orderedCluster{id: id, info: info, sig: ClusterSignatureHash(info.Samples)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].info.Size != out[j].info.Size {
			return out[i].info.Size > out[j].info.Size
		}
		return out[i].sig < out[j].sig
	})
	return out
}

// SelectReactionSamples picks top-1-per-cluster plus the global top-K
// comments by like count, deduped by normalized text, mirroring
// select_reaction_samples.
func SelectReactionSamples(clusterSummary map[string]ClusterInfo, comments []Sample) []string {
	ordered := orderClusters(clusterSummary)
	var picked []string
	seen := make(map[string]bool)

	for _, oc := range ordered {
		if len(oc.info.Samples) == 0 {
			continue
		}
		top := oc.info.Samples[0]
		for _, s := range oc.info.Samples[1:] {
			if s.LikeCount > top.LikeCount || (s.LikeCount == top.LikeCount && Normalize(s.Text, 0) > Normalize(top.Text, 0)) {
				top = s
			}
		}
		norm := Normalize(top.Text, 0)
		if norm != "" && !seen[norm] {
			seen[norm] = true
			picked = append(picked, norm)
		}
	}

	globalSorted := append([]Sample(nil), comments...)
	sort.SliceStable(globalSorted, func(i, j int) bool { return likeKeyLess(globalSorted[i], globalSorted[j]) })
	limit := len(ordered) + TopKGlobalReactions
	for _, c := range globalSorted {
		if len(picked) >= limit {
			break
		}
		norm := Normalize(c.Text, 0)
		if norm != "" && !seen[norm] {
			seen[norm] = true
			picked = append(picked, norm)
		}
	}
	return picked
}

// EvidenceBundle is the deterministic textual fingerprint of a post plus
// its derived case_id.
type EvidenceBundle struct {
	Fingerprint string
	CaseID      string
	Trigger     string
	Artifact    string
	Reactions   []string
	Version     string
}

// ImageText is OCR'd or vision-extracted text for one image, consumed in
// stable image order to build the ARTIFACT section.
type ImageText struct {
	Text string
}

// BuildEvidenceBundle assembles the TRIGGER/ARTIFACT/REACTIONS template
// and derives case_id = sha256(fingerprint).
func BuildEvidenceBundle(postText string, images []ImageText, comments []Sample, clusterSummary map[string]ClusterInfo) EvidenceBundle {
	trigger := Normalize(postText, TriggerMaxLen)

	var ocrParts []string
	for _, img := range images {
		if img.Text != "" {
			ocrParts = append(ocrParts, img.Text)
		}
	}
	artifact := Normalize(strings.Join(ocrParts, "\n"), ArtifactMaxLen)

	reactionsRaw := SelectReactionSamples(clusterSummary, comments)
	reactions := make([]string, 0, len(reactionsRaw))
	for _, r := range reactionsRaw {
		if r != "" {
			reactions = append(reactions, Normalize(r, ReactionMaxLen))
		}
	}
	joinedReactions := strings.Join(reactions, "\n")

	template := fmt.Sprintf("TRIGGER:\n%s\n\nARTIFACT:\n%s\n\nREACTIONS:\n%s", trigger, artifact, joinedReactions)
	fp := strings.TrimSpace(template)
	sum := sha256.Sum256([]byte(fp))
	caseID := hex.EncodeToString(sum[:])

	return EvidenceBundle{
		Fingerprint: fp,
		CaseID:      caseID,
		Trigger:     trigger,
		Artifact:    artifact,
		Reactions:   reactions,
		Version:     FingerprintVersion,
	}
}

// DeterministicPhenomenonID mints the UUIDv5 id for a fingerprint under
// the fixed namespace.
func DeterministicPhenomenonID(fp string) string {
	return uuid.NewSHA1(NamespaceUUID, []byte(fp)).String()
}

// Embedder wraps an EmbeddingClient behind a circuit breaker, matching
// the pipeline's other external-call guards.
type Embedder struct {
	client  collaborators.EmbeddingClient
	breaker *breaker.Breaker
}

// NewEmbedder builds an Embedder guarded by br.
func NewEmbedder(client collaborators.EmbeddingClient, br *breaker.Breaker) *Embedder {
	return &Embedder{client: client, breaker: br}
}

// Embed computes the embedding for text, hard-failing on an empty string
// or a dimension mismatch exactly as embed_text does.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("fingerprint: embed: empty text provided")
	}
	v, err := e.breaker.Do(ctx, func(ctx context.Context) (any, error) {
		return e.client.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("fingerprint: embed: %w", err)
	}
	vec := v.([]float64)
	if len(vec) != e.client.Dimension() {
		return nil, fmt.Errorf("fingerprint: embed: dimension mismatch expected %d got %d", e.client.Dimension(), len(vec))
	}
	return vec, nil
}

// EmbeddingHash hashes a vector deterministically for logging/debugging,
// mirroring embeddings.py's embedding_hash.
func EmbeddingHash(vec []float64) string {
	h := sha256.New()
	for _, v := range vec {
		fmt.Fprintf(h, "%.6f", v)
	}
	return hex.EncodeToString(h.Sum(nil))
}
