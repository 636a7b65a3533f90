package models

// PostSnapshot is the crawler-authoritative post view embedded in an
// analysis artifact (I6: never overwritten by LLM-derived values).
type PostSnapshot struct {
	PostID    string         `json:"post_id"`
	Author    *string        `json:"author,omitempty"`
	Text      *string        `json:"text,omitempty"`
	Link      *string        `json:"link,omitempty"`
	Images    []any          `json:"images,omitempty"`
	Timestamp *string        `json:"timestamp,omitempty"`
	Metrics   AnalysisMetrics `json:"metrics"`
}

// AnalysisMetrics is the subset of engagement metrics surfaced in the artifact.
type AnalysisMetrics struct {
	Likes   int  `json:"likes"`
	Views   *int `json:"views,omitempty"`
	Replies *int `json:"replies,omitempty"`
}

// AnalysisPhenomenon is the phenomenon block of the analysis artifact; set
// only by the registry (C3), never by the fusion rules directly.
type AnalysisPhenomenon struct {
	ID          *string `json:"id,omitempty"`
	Status      string  `json:"status,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AIImage     *string `json:"ai_image,omitempty"`
}

// EmotionalPulse is the LLM-derived affect summary.
type EmotionalPulse struct {
	Primary   *string  `json:"primary,omitempty"`
	Cynicism  *float64 `json:"cynicism,omitempty"`
	Hope      *float64 `json:"hope,omitempty"`
	Outrage   *float64 `json:"outrage,omitempty"`
	Notes     *string  `json:"notes,omitempty"`
}

// Segment is one audience/reaction segment.
type Segment struct {
	Label              string   `json:"label"`
	Share              *float64 `json:"share,omitempty"`
	Samples            []string `json:"samples,omitempty"`
	LinguisticFeatures []string `json:"linguistic_features,omitempty"`
}

// NarrativeStack is the L1/L2/L3 narrative-layer summary.
type NarrativeStack struct {
	L1 *string `json:"l1,omitempty"`
	L2 *string `json:"l2,omitempty"`
	L3 *string `json:"l3,omitempty"`
}

// Danger is the optional bot/homogeneity risk block.
type Danger struct {
	BotHomogeneityScore *float64 `json:"bot_homogeneity_score,omitempty"`
	Notes               *string  `json:"notes,omitempty"`
}

// Summary is a compatibility block kept for older consumers.
type Summary struct {
	OneLine       *string `json:"one_line,omitempty"`
	NarrativeType *string `json:"narrative_type,omitempty"`
}

// Battlefield is a compatibility block kept for older consumers.
type Battlefield struct {
	Factions []Segment `json:"factions"`
}

// AnalysisV4 is the validated narrative-analysis artifact produced by C4.
type AnalysisV4 struct {
	Post            PostSnapshot        `json:"post"`
	Phenomenon      AnalysisPhenomenon  `json:"phenomenon"`
	EmotionalPulse  EmotionalPulse      `json:"emotional_pulse"`
	Segments        []Segment           `json:"segments,omitempty"`
	NarrativeStack  NarrativeStack      `json:"narrative_stack"`
	Danger          *Danger             `json:"danger,omitempty"`
	FullReport      *string             `json:"full_report,omitempty"`
	Summary         *Summary            `json:"summary,omitempty"`
	Battlefield     *Battlefield        `json:"battlefield,omitempty"`
	AnalysisVersion string              `json:"analysis_version"`
	AnalysisBuildID string              `json:"analysis_build_id"`
	MissingKeys     []string            `json:"missing_keys,omitempty"`
}

// LLMPayload is the raw, untrusted structured output from the analyst LLM
// call, as consumed by the Analysis Builder (C4) fusion rules. The
// crawler-authoritative fields here are never applied (I6); they are not
// compared with the crawler values and not logged.
type LLMPayload struct {
	Author         *string                `json:"author,omitempty"`
	Text           *string                `json:"text,omitempty"`
	Timestamp      *string                `json:"timestamp,omitempty"`
	Metrics        map[string]any         `json:"metrics,omitempty"`
	Phenomenon     map[string]any         `json:"phenomenon,omitempty"`
	EmotionalPulse map[string]any         `json:"emotional_pulse,omitempty"`
	Segments       []map[string]any       `json:"segments,omitempty"`
	NarrativeStack map[string]any         `json:"narrative_stack,omitempty"`
	Danger         map[string]any         `json:"danger,omitempty"`
	Evidence       []map[string]any       `json:"evidence,omitempty"`
	Extra          map[string]any         `json:"-"`
}
