// Package pipeline implements the per-item state machine (C5): fetch an
// ingest target, optionally run the vision gate over its images, run the
// narrative analyst, persist the bundle, and kick off phenomenon
// enrichment. Grounded on spec.md §4.5 and, for the shape of a
// sequential stage machine driven by a small scheduler function, on
// codeready-toolchain-tarsy's pkg/queue/worker.go processSession.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jasonmaxxxon/discourse-lens/internal/analysisbuilder"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators"
	"github.com/jasonmaxxxon/discourse-lens/internal/commentmapper"
	"github.com/jasonmaxxxon/discourse-lens/internal/fingerprint"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/phenomenon"
	"github.com/jasonmaxxxon/discourse-lens/internal/quant"
	"github.com/jasonmaxxxon/discourse-lens/internal/version"
)

// TerminalError is a pipeline failure that maps directly to fail_job_item.
type TerminalError struct {
	Code    string
	Stage   models.Stage
	Message string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s at stage %s: %s", e.Code, e.Stage, e.Message)
}

const (
	CodeIngestNoPostID    = "INGEST_NO_POST_ID"
	CodePostIDNotFound    = "POST_ID_NOT_FOUND"
	CodeAnalysisMissing   = "ANALYSIS_MISSING"
	CodeRunnerError       = "RUNNER_ERROR"
	CodeRuntimeErr        = "RUNTIME_ERR"
)

// SubOpResult is the outcome of one persistence sub-operation.
type SubOpResult struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// PersistenceReport is C2's cluster/assignment persistence contract: both
// sub-operations are non-fatal for the pipeline (spec §4.2), so failures
// surface here rather than aborting analysis.
type PersistenceReport struct {
	Clusters    SubOpResult
	Assignments SubOpResult
}

// clusterEvidence carries the analyst stage's cluster data forward to
// enrichment, so Match-or-Mint's evidence bundle sees the same comments
// and clusters the analyst stage just computed instead of nothing.
type clusterEvidence struct {
	clusters map[string]fingerprint.ClusterInfo
	comments []fingerprint.Sample
}

// StageCallback is invoked on every stage transition. Implementations are
// given a 2s wait budget by Run; a slow or failing callback is logged by
// Run and otherwise ignored, never fatal to the item.
type StageCallback func(ctx context.Context, stage models.Stage) error

// Store is the narrow persistence contract the pipeline needs, satisfied
// by internal/store.
type Store interface {
	GetPostByURL(ctx context.Context, url string) (*models.Post, error)
	GetPostByShortcode(ctx context.Context, shortcode string) (*models.Post, error)
	UpsertPost(ctx context.Context, p *models.Post) error
	UpsertComments(ctx context.Context, comments []models.Comment) error
	UpsertCommentClusters(ctx context.Context, postID string, clusters []models.CommentCluster) error
	SetCommentClusterAssignments(ctx context.Context, assignments []models.CommentAssignment) error
}

// Config tunes vision gating and stage-callback behavior.
type Config struct {
	VisionMode           models.VisionMode
	VisionThreshold      float64
	StageCallbackBudget  time.Duration
	PersistAssignments   bool
	AnalysisVersion      string
	AnalysisBuildIDSeed  string
	KMeansSeed           int64
}

func (c Config) withDefaults() Config {
	if c.VisionThreshold <= 0 {
		c.VisionThreshold = 2.0
	}
	if c.StageCallbackBudget <= 0 {
		c.StageCallbackBudget = 2 * time.Second
	}
	if c.AnalysisVersion == "" {
		c.AnalysisVersion = "v4.1"
	}
	if c.VisionMode == "" {
		c.VisionMode = models.VisionAuto
	}
	if c.AnalysisBuildIDSeed == "" {
		c.AnalysisBuildIDSeed = version.AnalysisBuildID
	}
	return c
}

// Pipeline drives one (job_id, item_id, target) through the state
// machine. All collaborator and embedding dependencies are injected.
type Pipeline struct {
	scraper   collaborators.Scraper
	vision    collaborators.VisionClient
	ocr       collaborators.OCRClient
	llm       collaborators.LLMClient
	embedder  collaborators.EmbeddingClient
	store     Store
	registry  *phenomenon.Registry
	cfg       Config
}

// New builds a Pipeline.
func New(scraper collaborators.Scraper, vision collaborators.VisionClient, ocr collaborators.OCRClient,
	llm collaborators.LLMClient, embedder collaborators.EmbeddingClient, store Store,
	registry *phenomenon.Registry, cfg Config) *Pipeline {
	return &Pipeline{
		scraper: scraper, vision: vision, ocr: ocr, llm: llm, embedder: embedder,
		store: store, registry: registry, cfg: cfg.withDefaults(),
	}
}

// emitter suppresses duplicate consecutive stage emissions per run,
// per spec §5's "external progress emission is monotonic" guarantee.
type emitter struct {
	cb   StageCallback
	last models.Stage
	budget time.Duration
}

func (e *emitter) emit(ctx context.Context, stage models.Stage) {
	if e.cb == nil || stage == e.last {
		return
	}
	e.last = stage
	cctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()
	if err := e.cb(cctx, stage); err != nil {
		slog.Warn("stage callback failed", "stage", stage, "error", err) // never fatal
	}
}

// Run executes the full state machine for one target and returns the
// resulting Post. A *TerminalError is returned for any failure that must
// map to fail_job_item; all other errors are wrapped runtime errors.
func (p *Pipeline) Run(ctx context.Context, target string, cb StageCallback) (*models.Post, error) {
	em := &emitter{cb: cb, budget: p.cfg.StageCallbackBudget}
	em.emit(ctx, models.StageInit)

	em.emit(ctx, models.StageFetch)
	post, err := p.fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	if len(post.Images) > 0 {
		em.emit(ctx, models.StageVision)
		p.runVisionGate(ctx, post)
	}

	em.emit(ctx, models.StageAnalyst)
	evidence, err := p.analyze(ctx, post)
	if err != nil {
		return nil, err
	}

	em.emit(ctx, models.StageStore)
	if err := p.store.UpsertPost(ctx, post); err != nil {
		return nil, &TerminalError{Code: CodeRuntimeErr, Stage: models.StageStore, Message: err.Error()}
	}

	p.enrichPhenomenon(ctx, post, evidence)

	if post.AnalysisJSON == nil && post.FullReport == "" {
		return nil, &TerminalError{Code: CodeAnalysisMissing, Stage: models.StageStore, Message: "post has neither analysis_json nor full_report (I1)"}
	}

	em.emit(ctx, models.StageCompleted)
	return post, nil
}

// fetch issues the scrape and runs post-id recovery when the scraper
// couldn't resolve an id inline.
func (p *Pipeline) fetch(ctx context.Context, target string) (*models.Post, error) {
	scraped, err := p.scraper.FetchPost(ctx, target)
	if err != nil {
		return nil, &TerminalError{Code: CodeRunnerError, Stage: models.StageFetch, Message: err.Error()}
	}
	if scraped.URL == "" {
		return nil, &TerminalError{Code: CodeIngestNoPostID, Stage: models.StageFetch, Message: "scraper returned no url"}
	}

	canonical := CanonicalizeURL(scraped.URL)
	postID := scraped.PostID
	if postID == "" {
		postID, err = p.recoverPostID(ctx, canonical)
		if err != nil {
			return nil, err
		}
	}

	comments := make([]models.Comment, 0, len(scraped.Comments))
	rawComments := make([]map[string]any, 0, len(scraped.Comments))
	for _, c := range scraped.Comments {
		id := c.ID
		if id == "" {
			id = commentmapper.DeterministicCommentID(postID, c.Author, c.Text)
		}
		comments = append(comments, models.Comment{
			ID: id, PostID: postID, AuthorHandle: strPtrOrNil(c.Author), Text: c.Text,
			LikeCount: c.LikeCount, CapturedAt: time.Now(), RawJSON: c.RawJSON,
			QuantClusterID: -1,
		})
		rawComments = append(rawComments, c.RawJSON)
	}

	images := make([]models.Image, 0, len(scraped.ImageURLs))
	for _, u := range scraped.ImageURLs {
		images = append(images, models.Image{Src: u})
	}

	post := &models.Post{
		ID: postID, URL: canonical, Author: scraped.Author, PostText: scraped.Text,
		Engagement: models.Engagement{Likes: scraped.Likes, Replies: scraped.Replies, Views: scraped.Views, Reposts: scraped.Reposts},
		Images: images, RawComments: rawComments,
	}
	post.Vision.Mode = p.cfg.VisionMode
	return post, nil
}

// recoverPostID implements §4.5's post-id recovery: poll the store by
// canonical URL with 3×1s backoff, then fall back to a shortcode ILIKE
// search on the trailing path segment.
func (p *Pipeline) recoverPostID(ctx context.Context, canonicalURL string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		existing, err := p.store.GetPostByURL(ctx, canonicalURL)
		if err == nil && existing != nil {
			return existing.ID, nil
		}
		select {
		case <-ctx.Done():
			return "", &TerminalError{Code: CodePostIDNotFound, Stage: models.StageFetch, Message: ctx.Err().Error()}
		case <-time.After(time.Second):
		}
	}

	shortcode := trailingPathSegment(canonicalURL)
	if shortcode != "" {
		if existing, err := p.store.GetPostByShortcode(ctx, shortcode); err == nil && existing != nil {
			return existing.ID, nil
		}
	}
	return "", &TerminalError{Code: CodePostIDNotFound, Stage: models.StageFetch, Message: "exhausted post-id recovery candidates"}
}

// CanonicalizeURL drops the query string and normalizes the threads.com
// host alias to threads.net (the only alias the original normalizes;
// others are an open question per spec.md §9.4).
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	if u.Host == "threads.com" || u.Host == "www.threads.com" {
		u.Host = strings.Replace(u.Host, "threads.com", "threads.net", 1)
	}
	return u.String()
}

func trailingPathSegment(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// runVisionGate scores the post, decides whether to run the vision stage,
// and on a run, invokes the vision/OCR clients. Vision failures are soft:
// logged on the post's vision reasons, never terminal.
func (p *Pipeline) runVisionGate(ctx context.Context, post *models.Post) {
	score, reasons := p.scoreVisionGate(ctx, post)
	post.Vision.NeedScore = score
	post.Vision.Reasons = reasons
	post.Vision.UpdatedAt = timePtr(time.Now())

	run := false
	switch p.cfg.VisionMode {
	case models.VisionOff:
		run = false
	case models.VisionForce:
		run = true
	default:
		run = score >= p.cfg.VisionThreshold
	}
	if !run {
		post.Vision.StageRan = models.VisionStageNone
		return
	}

	ranAny := false
	for i := range post.Images {
		img := &post.Images[i]
		v1, err := p.vision.Analyze(ctx, img.Src, "v1")
		if err != nil {
			post.Vision.Reasons = append(post.Vision.Reasons, "vision_v1_failed:"+err.Error())
			continue
		}
		ranAny = true
		img.SceneLabel = strPtrOrNil(v1.SceneLabel)
		img.ContextDesc = strPtrOrNil(v1.ContextDesc)

		if text, err := p.ocr.ExtractText(ctx, img.Src); err == nil && text != "" {
			img.FullText = &text
		}

		if needsV2(v1) {
			if v2, err := p.vision.Analyze(ctx, img.Src, "v2"); err == nil {
				img.VisualRhetoric = strPtrOrNil(v2.VisualRhetoric)
				post.Vision.StageRan = models.VisionStageV2
			}
		}
	}
	if ranAny && post.Vision.StageRan == "" {
		post.Vision.StageRan = models.VisionStageV1
	} else if !ranAny {
		post.Vision.StageRan = models.VisionStageNone
	}
}

// needsV2 gates the deeper vision pass on V1 signals: readable text,
// screenshot framing, medium/high text density.
func needsV2(v1 *collaborators.VisionResult) bool {
	hasText := v1.FullText != "" || strings.Contains(strings.ToLower(v1.SceneLabel), "text")
	isScreenshot := strings.Contains(strings.ToLower(v1.SceneLabel), "screenshot")
	return hasText || isScreenshot
}

// scoreVisionGate implements the regex-free weighted rule set of §4.5.
func (p *Pipeline) scoreVisionGate(ctx context.Context, post *models.Post) (float64, []string) {
	var score float64
	var reasons []string

	if len([]rune(post.PostText)) < 80 {
		score += 2.0
		reasons = append(reasons, "SilentPost")
	}

	readableComments := 0
	totalLen := 0
	for _, c := range post.RawComments {
		text, _ := c["text"].(string)
		if strings.TrimSpace(text) != "" {
			readableComments++
			totalLen += len([]rune(text))
		}
	}
	switch {
	case len(post.RawComments) == 0:
		score += 1.0
		reasons = append(reasons, "NoReadableComments")
	default:
		nonEmptyFrac := float64(readableComments) / float64(len(post.RawComments))
		if readableComments == 0 {
			score += 1.0
			reasons = append(reasons, "NoReadableComments")
		} else {
			avgLen := float64(totalLen) / float64(readableComments)
			if avgLen < 12 {
				score += 1.0
				reasons = append(reasons, "ShortComments")
			}
			if nonEmptyFrac < 0.70 {
				score += 0.5
				reasons = append(reasons, "ManyEmptyComments")
			}
		}
	}

	metricsReliable := post.Engagement.Views > 0 || post.Engagement.Likes > 0 || post.Engagement.Replies > 0
	post.Vision.MetricsReliable = metricsReliable
	if metricsReliable && (post.Engagement.Views > 50000 || post.Engagement.Likes > 300 || post.Engagement.Replies > 120) {
		score += 1.5
		reasons = append(reasons, "HighImpact")
	}

	if p.embedder != nil && post.PostText != "" && len(post.RawComments) > 0 {
		if divergent, ok := p.semanticDivergence(ctx, post); ok && divergent {
			score += 2.0
			reasons = append(reasons, "SemanticDivergence")
		}
	}

	return score, reasons
}

// semanticDivergence embeds the post text and the mean of its top-comment
// embeddings, returning true when their cosine similarity falls below
// 0.30. A failure to embed is non-fatal: the caller treats it as "no
// signal" rather than forcing a score contribution.
func (p *Pipeline) semanticDivergence(ctx context.Context, post *models.Post) (divergent bool, ok bool) {
	postVec, err := p.embedder.Embed(ctx, post.PostText)
	if err != nil {
		return false, false
	}

	const topN = 5
	var vecs [][]float64
	for i, c := range post.RawComments {
		if i >= topN {
			break
		}
		text, _ := c["text"].(string)
		if text == "" {
			continue
		}
		v, err := p.embedder.Embed(ctx, text)
		if err != nil {
			continue
		}
		vecs = append(vecs, v)
	}
	if len(vecs) == 0 {
		return false, false
	}
	mean := quant.Centroid(vecs)
	sim := quant.CosineSimilarity(postVec, mean)
	post.Vision.Sim = &sim
	return sim < 0.30, true
}

func timePtr(t time.Time) *time.Time { return &t }

// analyze runs the comment structure mapper, the analyst LLM call, and
// the analysis builder fusion rules, then attaches the result to post.
// This stage must succeed for the item to complete (spec §4.5).
func (p *Pipeline) analyze(ctx context.Context, post *models.Post) (*clusterEvidence, error) {
	inputComments := make([]commentmapper.InputComment, 0, len(post.RawComments))
	for _, c := range post.RawComments {
		text, _ := c["text"].(string)
		author, _ := c["author"].(string)
		id, _ := c["id"].(string)
		likes, _ := c["like_count"].(int)
		inputComments = append(inputComments, commentmapper.InputComment{ID: id, Author: author, Text: text, LikeCount: likes})
	}

	mapResult, err := commentmapper.MapStructure(ctx, post.ID, inputComments, p.embedder, p.cfg.KMeansSeed)
	if err != nil {
		return nil, &TerminalError{Code: CodeRuntimeErr, Stage: models.StageAnalyst, Message: "comment structure mapping: " + err.Error()}
	}

	var clusterSummary *analysisbuilder.ClusterSummary
	var evidence *clusterEvidence
	if mapResult != nil {
		entries := make(map[string]analysisbuilder.ClusterEntry, len(mapResult.Clusters))
		for _, c := range mapResult.Clusters {
			samples := make([]analysisbuilder.SegmentSample, 0, len(c.TopCommentIDs))
			for _, id := range c.TopCommentIDs {
				samples = append(samples, analysisbuilder.SegmentSample{CommentID: strPtrOrNil(id)})
			}
			entries[c.Label] = analysisbuilder.ClusterEntry{Label: c.Label, Samples: samples}
		}
		clusterSummary = &analysisbuilder.ClusterSummary{Clusters: entries}

		clusters := make([]models.CommentCluster, 0, len(mapResult.Clusters))
		clusterSummaryJSON := make(map[string]any, len(mapResult.Clusters))
		for _, c := range mapResult.Clusters {
			clusters = append(clusters, models.CommentCluster{
				PostID: post.ID, ClusterKey: c.ClusterKey, Label: c.Label, Size: c.Size,
				Keywords: c.Keywords, TopCommentIDs: c.TopCommentIDs, CentroidEmbedding: c.CentroidEmbedding,
			})
			clusterSummaryJSON[c.Label] = map[string]any{
				"cluster_key":     c.ClusterKey,
				"size":            c.Size,
				"keywords":        c.Keywords,
				"top_comment_ids": c.TopCommentIDs,
			}
		}
		post.ClusterSummary = clusterSummaryJSON
		evidence = buildClusterEvidence(mapResult)

		var report PersistenceReport
		if err := p.store.UpsertCommentClusters(ctx, post.ID, clusters); err != nil {
			report.Clusters = SubOpResult{Error: err.Error()}
		} else {
			report.Clusters = SubOpResult{OK: true}
		}

		if p.cfg.PersistAssignments {
			assignments := make([]models.CommentAssignment, 0, len(mapResult.Assignments))
			for _, a := range mapResult.Assignments {
				assignments = append(assignments, models.CommentAssignment{
					CommentID: a.CommentID, ClusterKey: a.ClusterKey, ClusterLabel: a.ClusterLabel, ClusterID: a.ClusterID,
				})
			}
			if err := p.store.SetCommentClusterAssignments(ctx, assignments); err != nil {
				report.Assignments = SubOpResult{Error: err.Error()}
			} else {
				report.Assignments = SubOpResult{OK: true}
			}
		} else {
			report.Assignments = SubOpResult{Skipped: true}
		}
		if report.Clusters.Error != "" || report.Assignments.Error != "" {
			// non-fatal per C2's persistence contract (spec §4.2): logged and
			// carried in the report, never raised to the caller.
			slog.Warn("cluster/assignment persistence degraded, continuing",
				"post_id", post.ID, "clusters", report.Clusters, "assignments", report.Assignments)
		}

		comments := make([]models.Comment, 0, len(mapResult.Comments))
		for _, c := range mapResult.Comments {
			comments = append(comments, models.Comment{
				ID: c.ID, PostID: post.ID, AuthorHandle: strPtrOrNil(c.Author), Text: c.Text,
				LikeCount: c.LikeCount, CapturedAt: time.Now(), QuantClusterID: c.QuantClusterID,
				QuantX: c.QuantX, QuantY: c.QuantY, IsTemplateLike: c.IsTemplateLike,
			})
		}
		if err := p.store.UpsertComments(ctx, comments); err != nil {
			return nil, &TerminalError{Code: CodeRuntimeErr, Stage: models.StageAnalyst, Message: "persist comments: " + err.Error()}
		}
	}

	prompt := buildAnalystPrompt(post)
	raw, err := p.llm.Analyze(ctx, prompt)
	if err != nil {
		// soft-fail: analyst failure without any prior full_report is terminal,
		// but a partial prior report lets the item still satisfy (I1).
		if post.FullReport == "" {
			return nil, &TerminalError{Code: CodeAnalysisMissing, Stage: models.StageAnalyst, Message: err.Error()}
		}
		return evidence, nil
	}

	llmPayload := decodeLLMPayload(raw)
	fullReport, _ := raw["full_report"].(string)
	buildID := p.cfg.AnalysisBuildIDSeed + ":" + post.ID + ":" + p.cfg.AnalysisVersion
	postRow := analysisbuilder.PostRow{
		PostID: post.ID, Author: strPtrOrNil(post.Author), Text: strPtrOrNil(post.PostText),
		Timestamp: strPtrOrNil(time.Now().UTC().Format(time.RFC3339)),
		Likes: intPtr(post.Engagement.Likes), Views: intPtr(post.Engagement.Views), Replies: intPtr(post.Engagement.Replies),
	}
	var fullReportPtr *string
	if fullReport != "" {
		fullReportPtr = &fullReport
	}
	analysis := analysisbuilder.Build(postRow, llmPayload, clusterSummary, fullReportPtr, buildID)

	var evidenceCount *int
	if len(llmPayload.Evidence) > 0 {
		n := len(llmPayload.Evidence)
		evidenceCount = &n
	}
	ok, reason, missing := analysisbuilder.Validate(analysis, evidenceCount)
	analysisJSON := map[string]any{
		"post": analysis.Post, "phenomenon": analysis.Phenomenon, "emotional_pulse": analysis.EmotionalPulse,
		"segments": analysis.Segments, "narrative_stack": analysis.NarrativeStack, "danger": analysis.Danger,
	}
	post.AnalysisJSON = analysisJSON
	post.AnalysisIsValid = ok
	post.AnalysisInvalidReason = reason
	post.AnalysisMissingKeys = missing
	post.AnalysisVersion = analysis.AnalysisVersion
	post.AnalysisBuildID = analysis.AnalysisBuildID
	if fullReport != "" {
		post.FullReport = fullReport
	}
	if analysis.Phenomenon.Status == "" {
		analysis.Phenomenon.Status = "pending"
	}
	post.Phenomenon.Status = analysis.Phenomenon.Status
	return evidence, nil
}

// buildClusterEvidence converts the structure mapper's output into the
// fingerprint package's cluster/comment shape, so Match-or-Mint's
// evidence bundle is built from the same clusters the analyst stage just
// computed (spec §4.1's "From (post_text, ocr_text?, comments,
// cluster_summary?, images?)").
func buildClusterEvidence(mapResult *commentmapper.Result) *clusterEvidence {
	commentByID := make(map[string]commentmapper.EnrichedComment, len(mapResult.Comments))
	comments := make([]fingerprint.Sample, 0, len(mapResult.Comments))
	for _, c := range mapResult.Comments {
		commentByID[c.ID] = c
		comments = append(comments, fingerprint.Sample{Text: c.Text, LikeCount: c.LikeCount})
	}

	clusters := make(map[string]fingerprint.ClusterInfo, len(mapResult.Clusters))
	for _, c := range mapResult.Clusters {
		samples := make([]fingerprint.Sample, 0, len(c.TopCommentIDs))
		for _, id := range c.TopCommentIDs {
			if ec, ok := commentByID[id]; ok {
				samples = append(samples, fingerprint.Sample{Text: ec.Text, LikeCount: ec.LikeCount})
			}
		}
		clusters[c.Label] = fingerprint.ClusterInfo{Samples: samples, Size: float64(c.Size)}
	}

	return &clusterEvidence{clusters: clusters, comments: comments}
}

func intPtr(i int) *int { return &i }

func buildAnalystPrompt(post *models.Post) string {
	return fmt.Sprintf("post_text:%s\nimages:%d\ncomments:%d", post.PostText, len(post.Images), len(post.RawComments))
}

func decodeLLMPayload(raw map[string]any) models.LLMPayload {
	var p models.LLMPayload
	if v, ok := raw["metrics"].(map[string]any); ok {
		p.Metrics = v
	}
	if v, ok := raw["phenomenon"].(map[string]any); ok {
		p.Phenomenon = v
	}
	if v, ok := raw["emotional_pulse"].(map[string]any); ok {
		p.EmotionalPulse = v
	}
	if v, ok := raw["narrative_stack"].(map[string]any); ok {
		p.NarrativeStack = v
	}
	if v, ok := raw["danger"].(map[string]any); ok {
		p.Danger = v
	}
	if v, ok := raw["evidence"].([]map[string]any); ok {
		p.Evidence = v
	}
	return p
}

// enrichPhenomenon runs the registry's Match-or-Mint protocol inline and
// patches the post's phenomenon block. Registry failures are non-fatal —
// the error is recorded on post.Enrichment (status failed, LastError) and
// the post's phenomenon block is left untouched, since enrichment is explicitly a submit-and-forget background concern
// (spec §9) that this pipeline runs inline for simplicity.
func (p *Pipeline) enrichPhenomenon(ctx context.Context, post *models.Post, evidence *clusterEvidence) {
	if p.registry == nil {
		return
	}

	var images []fingerprint.ImageText
	for _, img := range post.Images {
		if img.FullText != nil && *img.FullText != "" {
			images = append(images, fingerprint.ImageText{Text: *img.FullText})
		}
	}
	var comments []fingerprint.Sample
	var clusters map[string]fingerprint.ClusterInfo
	if evidence != nil {
		comments = evidence.comments
		clusters = evidence.clusters
	}

	bundle := fingerprint.BuildEvidenceBundle(post.PostText, images, comments, clusters)
	result, err := p.registry.MatchOrMint(ctx, bundle)
	if err != nil {
		post.Enrichment.Status = models.EnrichmentFailed
		msg := err.Error()
		post.Enrichment.LastError = &msg
		return
	}
	post.Phenomenon.ID = &result.PhenomenonID
	post.Phenomenon.Status = string(result.Outcome)
	post.Phenomenon.CaseID = &result.CaseID
	_ = p.registry.RecordOccurrence(ctx, result.PhenomenonID)
	post.Enrichment.Status = models.EnrichmentCompleted
	now := time.Now()
	post.Enrichment.CompletedAt = &now
}
