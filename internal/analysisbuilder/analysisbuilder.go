// Package analysisbuilder implements the Analysis Builder (C4): it fuses
// crawler-authoritative post data, the analyst LLM's raw output, and the
// comment-cluster summary into a validated AnalysisV4 artifact. Grounded
// on original_source/analysis/build_analysis_json.py (the field-by-field
// fusion rules) and its protect_core_fields/validate_analysis_json
// helpers, which this package reproduces as the single place (I6)
// crawler-authoritative fields are enforced.
package analysisbuilder

import (
	"regexp"
	"strings"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

// PostRow is the crawler-authoritative view of a post, as persisted by C5's fetch stage.
type PostRow struct {
	PostID    string
	Author    *string
	Text      *string
	URL       *string
	Timestamp *string
	Images    []any // strings or map[string]any with src/proxy_url/original_src
	Likes     *int
	Views     *int
	Replies   *int
}

// ClusterSummary is the C2 cluster payload, keyed by cluster label.
type ClusterSummary struct {
	Clusters map[string]ClusterEntry
}

// ClusterEntry is one cluster's share/samples for segment assembly.
type ClusterEntry struct {
	Label   string
	Share   *float64
	Samples []SegmentSample
}

// SegmentSample is one comment sample attached to a segment.
type SegmentSample struct {
	CommentID *string
	User      *string
	Text      string
	Likes     *int
}

const defaultAnalysisVersion = "v4.1"

// Build fuses postRow, the raw llmPayload, an optional cluster summary,
// and an optional full report into an AnalysisV4 artifact; Validate
// checks it separately.
func Build(postRow PostRow, llm models.LLMPayload, clusters *ClusterSummary, fullReport *string, buildID string) *models.AnalysisV4 {
	metrics := buildMetrics(postRow, llm.Metrics)
	post := buildPostBlock(postRow, metrics)
	phen := buildPhenomenon(llm.Phenomenon)
	if phen.ID == nil && phen.Name == nil {
		phen.Status = "pending"
	}
	pulse := buildEmotionalPulse(llm.EmotionalPulse)
	segments := buildSegments(clusters, llm.Extra)
	stack := buildNarrativeStack(llm.NarrativeStack, fullReport)
	danger := buildDanger(llm.Danger)

	var summary *models.Summary
	if sb, ok := llm.Extra["summary"].(map[string]any); ok {
		oneLine, _ := sb["one_line"].(string)
		narrativeType, _ := sb["narrative_type"].(string)
		s := models.Summary{}
		if oneLine != "" {
			s.OneLine = &oneLine
		}
		if narrativeType != "" {
			s.NarrativeType = &narrativeType
		}
		summary = &s
	}

	var battlefield *models.Battlefield
	if len(segments) > 0 {
		battlefield = &models.Battlefield{Factions: segments}
	}

	analysis := &models.AnalysisV4{
		Post:            post,
		Phenomenon:      phen,
		EmotionalPulse:  pulse,
		Segments:        segments,
		NarrativeStack:  stack,
		Danger:          danger,
		FullReport:      fullReport,
		Summary:         summary,
		Battlefield:     battlefield,
		AnalysisVersion: defaultAnalysisVersion,
		AnalysisBuildID: buildID,
	}
	return analysis
}

func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func intPtrOrNil(v *int) *int {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// buildMetrics applies crawler-authoritative precedence: the crawler's
// likes win whenever present and the LLM's likes only fill a missing
// value; views and replies come from the crawler alone. No divergence
// between LLM and crawler values is computed or logged.
func buildMetrics(postRow PostRow, llmMetrics map[string]any) models.AnalysisMetrics {
	likes := 0
	if postRow.Likes != nil {
		likes = *postRow.Likes
	} else if llmMetrics != nil {
		if v, ok := coerceInt(llmMetrics["likes"]); ok {
			likes = v
		}
	}
	return models.AnalysisMetrics{
		Likes:   likes,
		Views:   intPtrOrNil(postRow.Views),
		Replies: intPtrOrNil(postRow.Replies),
	}
}

// sanitizeImages reduces object-shaped images to src|proxy_url|original_src, keeping strings as-is.
func sanitizeImages(raw []any) []any {
	out := make([]any, 0, len(raw))
	for _, img := range raw {
		switch v := img.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			for _, key := range []string{"src", "proxy_url", "original_src"} {
				if s, ok := v[key].(string); ok && s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

func buildPostBlock(postRow PostRow, metrics models.AnalysisMetrics) models.PostSnapshot {
	return models.PostSnapshot{
		PostID:    postRow.PostID,
		Author:    postRow.Author,
		Text:      postRow.Text,
		Link:      postRow.URL,
		Images:    sanitizeImages(postRow.Images),
		Timestamp: postRow.Timestamp,
		Metrics:   metrics,
	}
}

// buildPhenomenon never sets identity from the LLM payload — identity is
// registry-driven (C3). Only descriptive text is accepted here.
func buildPhenomenon(llmPhen map[string]any) models.AnalysisPhenomenon {
	var description, aiImage *string
	if llmPhen != nil {
		if d, ok := llmPhen["description"].(string); ok && d != "" {
			description = &d
		}
		if img, ok := llmPhen["ai_image"].(string); ok && img != "" {
			aiImage = &img
		}
	}
	return models.AnalysisPhenomenon{Description: description, AIImage: aiImage}
}

func clampFraction(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	default:
		return nil
	}
	if f > 1.0 {
		if f <= 100.0 {
			f = f / 100.0
		}
	}
	if f < 0 {
		f = 0
	}
	if f > 1.0 {
		f = 1.0
	}
	return &f
}

func buildEmotionalPulse(llmPulse map[string]any) models.EmotionalPulse {
	var pulse models.EmotionalPulse
	if llmPulse == nil {
		return pulse
	}
	if p, ok := llmPulse["primary"].(string); ok && p != "" {
		pulse.Primary = &p
	}
	if v, ok := llmPulse["cynicism"]; ok {
		pulse.Cynicism = clampFraction(v)
	}
	if v, ok := llmPulse["hope"]; ok {
		pulse.Hope = clampFraction(v)
	}
	if v, ok := llmPulse["outrage"]; ok {
		pulse.Outrage = clampFraction(v)
	} else if v, ok := llmPulse["anger"]; ok {
		pulse.Outrage = clampFraction(v)
	}
	if n, ok := llmPulse["notes"].(string); ok && n != "" {
		pulse.Notes = &n
	}
	return pulse
}

func buildSegments(clusters *ClusterSummary, llmExtra map[string]any) []models.Segment {
	var segments []models.Segment
	if clusters != nil {
		for _, entry := range clusters.Clusters {
			seg := models.Segment{Label: entry.Label, Share: entry.Share}
			for _, s := range entry.Samples {
				seg.Samples = append(seg.Samples, s.Text)
			}
			segments = append(segments, seg)
		}
	}
	if len(segments) > 0 {
		return segments
	}
	battlefield, ok := llmExtra["battlefield"].(map[string]any)
	if !ok {
		return nil
	}
	factions, ok := battlefield["factions"].([]any)
	if !ok {
		return nil
	}
	for _, f := range factions {
		fm, ok := f.(map[string]any)
		if !ok {
			continue
		}
		label, _ := fm["label"].(string)
		if label == "" {
			label, _ = fm["name"].(string)
		}
		seg := models.Segment{Label: label}
		if share, ok := fm["share"]; ok {
			seg.Share = clampFraction(share)
		}
		segments = append(segments, seg)
	}
	return segments
}

var (
	l1Pattern = regexp.MustCompile(`(?is)L1[：:.\s].*?(?:語言行為理論|Speech Act Theory)`)
	l2Pattern = regexp.MustCompile(`(?is)L2[：:.\s].*?(?:批判性話語分析|Critical Discourse Analysis|策略)`)
	l3Pattern = regexp.MustCompile(`(?is)L3[：:.\s].*?(?:輿論戰場與派系分析|Battlefield|Factions)`)

	stopL1 = []*regexp.Regexp{regexp.MustCompile(`(?im)^L2[：:.\s]`), regexp.MustCompile(`(?im)^L3[：:.\s]`), regexp.MustCompile(`(?im)^### `)}
	stopL2 = []*regexp.Regexp{regexp.MustCompile(`(?im)^L3[：:.\s]`), regexp.MustCompile(`(?im)^L1[：:.\s]`), regexp.MustCompile(`(?im)^### `)}
	stopL3 = []*regexp.Regexp{regexp.MustCompile(`(?im)^L1[：:.\s]`), regexp.MustCompile(`(?im)^L2[：:.\s]`), regexp.MustCompile(`(?im)^### `)}
)

func extractBlock(text string, start *regexp.Regexp, stops []*regexp.Regexp) *string {
	loc := start.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	startIdx := loc[1]
	endIdx := len(text)
	tail := text[startIdx:]
	for _, sp := range stops {
		if m := sp.FindStringIndex(tail); m != nil && startIdx+m[0] < endIdx {
			endIdx = startIdx + m[0]
		}
	}
	block := strings.TrimSpace(text[startIdx:endIdx])
	if block == "" {
		return nil
	}
	return &block
}

// buildNarrativeStack reads structured L1/L2/L3 keys first, falling back
// to a regex extraction over full_report between section markers.
func buildNarrativeStack(llmStack map[string]any, fullReport *string) models.NarrativeStack {
	var stack models.NarrativeStack
	get := func(keys ...string) *string {
		for _, k := range keys {
			if llmStack != nil {
				if v, ok := llmStack[k].(string); ok && v != "" {
					return &v
				}
			}
		}
		return nil
	}
	stack.L1 = get("l1", "L1")
	stack.L2 = get("l2", "L2")
	stack.L3 = get("l3", "L3")

	if fullReport == nil || *fullReport == "" {
		return stack
	}
	text := *fullReport
	if stack.L1 == nil {
		stack.L1 = extractBlock(text, l1Pattern, stopL1)
	}
	if stack.L2 == nil {
		stack.L2 = extractBlock(text, l2Pattern, stopL2)
	}
	if stack.L3 == nil {
		stack.L3 = extractBlock(text, l3Pattern, stopL3)
	}
	return stack
}

func buildDanger(llmDanger map[string]any) *models.Danger {
	if llmDanger == nil {
		return nil
	}
	d := &models.Danger{}
	if v, ok := llmDanger["bot_homogeneity_score"]; ok {
		d.BotHomogeneityScore = clampFraction(v)
	} else if v, ok := llmDanger["math_homogeneity"]; ok {
		d.BotHomogeneityScore = clampFraction(v)
	}
	if n, ok := llmDanger["notes"].(string); ok && n != "" {
		d.Notes = &n
	}
	return d
}

var allowedVersions = map[string]bool{"v4": true, "v4.1": true}

// Validate checks the minimal completeness rules from spec §4.4: a
// supported analysis_version, required post fields, a phenomenon
// identity (or an explicit pending status), and — only when an evidence
// block is actually present — at least two evidence samples.
func Validate(a *models.AnalysisV4, evidenceCount *int) (ok bool, reason string, missing []string) {
	version := a.AnalysisVersion
	if version == "" {
		version = "v4"
	}
	if !allowedVersions[version] {
		return false, "unsupported_version:" + version, []string{"analysis_version"}
	}

	if a.Post.PostID == "" {
		missing = append(missing, "post.id")
	}
	if a.Post.Text == nil || *a.Post.Text == "" {
		missing = append(missing, "post.text")
	}
	if a.Post.Timestamp == nil || *a.Post.Timestamp == "" {
		missing = append(missing, "post.created_at")
	}

	hasID := a.Phenomenon.ID != nil && *a.Phenomenon.ID != ""
	hasName := a.Phenomenon.Name != nil && *a.Phenomenon.Name != ""
	isPending := a.Phenomenon.Status == "pending"
	if !hasID && !hasName && !isPending {
		missing = append(missing, "phenomenon.id_or_name")
	}

	if evidenceCount != nil && *evidenceCount < 2 {
		missing = append(missing, "phenomenon.evidence>=2")
	}

	if len(missing) > 0 {
		return false, "missing_required_fields", missing
	}
	return true, "", nil
}
