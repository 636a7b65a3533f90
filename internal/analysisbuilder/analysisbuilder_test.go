package analysisbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestBuild_CrawlerFieldsWinOverLLM(t *testing.T) {
	postRow := PostRow{
		PostID:    "p1",
		Author:    strPtr("crawler_author"),
		Text:      strPtr("crawler text"),
		Timestamp: strPtr("2026-01-01T00:00:00Z"),
		Likes:     intPtr(500),
	}
	llm := models.LLMPayload{
		Author: strPtr("llm_author"),
		Text:   strPtr("llm text"),
		Metrics: map[string]any{
			"likes": 999999,
		},
	}
	got := Build(postRow, llm, nil, nil, "analysisv4-1")
	assert.Equal(t, "crawler text", *got.Post.Text)
	assert.Equal(t, "crawler_author", *got.Post.Author)
	assert.Equal(t, 500, got.Post.Metrics.Likes)
}

func TestBuild_LLMFillsGapWhenCrawlerMissing(t *testing.T) {
	postRow := PostRow{PostID: "p1"}
	llm := models.LLMPayload{Metrics: map[string]any{"likes": float64(42)}}
	got := Build(postRow, llm, nil, nil, "analysisv4-1")
	assert.Equal(t, 42, got.Post.Metrics.Likes)
}

func TestBuild_SanitizesObjectImages(t *testing.T) {
	postRow := PostRow{
		PostID: "p1",
		Images: []any{
			"https://plain.example/a.png",
			map[string]any{"proxy_url": "https://proxied.example/b.png"},
			map[string]any{"original_src": "https://orig.example/c.png"},
			map[string]any{"unrelated": "x"},
		},
	}
	got := Build(postRow, models.LLMPayload{}, nil, nil, "analysisv4-1")
	assert.Equal(t, []any{
		"https://plain.example/a.png",
		"https://proxied.example/b.png",
		"https://orig.example/c.png",
	}, got.Post.Images)
}

func TestBuild_PhenomenonIdentityNeverSetFromLLM(t *testing.T) {
	llm := models.LLMPayload{Phenomenon: map[string]any{"id": "should-be-ignored", "description": "desc"}}
	got := Build(PostRow{PostID: "p1"}, llm, nil, nil, "analysisv4-1")
	assert.Nil(t, got.Phenomenon.ID)
	require.NotNil(t, got.Phenomenon.Description)
	assert.Equal(t, "desc", *got.Phenomenon.Description)
}

func TestBuild_NarrativeStackFallsBackToFullReportRegex(t *testing.T) {
	report := "L1: Speech Act Theory\nsome l1 content here\nL2: Critical Discourse Analysis\nsome l2 content\nL3: Battlefield\nsome l3 content"
	got := Build(PostRow{PostID: "p1"}, models.LLMPayload{}, nil, &report, "analysisv4-1")
	require.NotNil(t, got.NarrativeStack.L1)
	assert.Contains(t, *got.NarrativeStack.L1, "l1 content")
}

func TestBuild_ShareNormalization(t *testing.T) {
	llm := models.LLMPayload{Danger: map[string]any{"bot_homogeneity_score": float64(75)}}
	got := Build(PostRow{PostID: "p1"}, llm, nil, nil, "analysisv4-1")
	require.NotNil(t, got.Danger)
	require.NotNil(t, got.Danger.BotHomogeneityScore)
	assert.InDelta(t, 0.75, *got.Danger.BotHomogeneityScore, 1e-9)
}

func TestValidate_OK(t *testing.T) {
	a := &models.AnalysisV4{
		AnalysisVersion: "v4.1",
		Post:            models.PostSnapshot{PostID: "p1", Text: strPtr("hi"), Timestamp: strPtr("t")},
		Phenomenon:      models.AnalysisPhenomenon{Status: "pending"},
	}
	ok, reason, missing := Validate(a, nil)
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.Empty(t, missing)
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	a := &models.AnalysisV4{AnalysisVersion: "v3"}
	ok, reason, missing := Validate(a, nil)
	assert.False(t, ok)
	assert.Equal(t, "unsupported_version:v3", reason)
	assert.Equal(t, []string{"analysis_version"}, missing)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	a := &models.AnalysisV4{AnalysisVersion: "v4"}
	ok, reason, missing := Validate(a, nil)
	assert.False(t, ok)
	assert.Equal(t, "missing_required_fields", reason)
	assert.Contains(t, missing, "post.id")
	assert.Contains(t, missing, "post.text")
	assert.Contains(t, missing, "post.created_at")
	assert.Contains(t, missing, "phenomenon.id_or_name")
}

func TestValidate_EvidenceRequiredOnlyWhenPresent(t *testing.T) {
	a := &models.AnalysisV4{
		AnalysisVersion: "v4",
		Post:            models.PostSnapshot{PostID: "p1", Text: strPtr("hi"), Timestamp: strPtr("t")},
		Phenomenon:      models.AnalysisPhenomenon{Status: "pending"},
	}
	one := 1
	ok, _, missing := Validate(a, &one)
	assert.False(t, ok)
	assert.Contains(t, missing, "phenomenon.evidence>=2")

	two := 2
	ok2, _, missing2 := Validate(a, &two)
	assert.True(t, ok2)
	assert.Empty(t, missing2)
}
