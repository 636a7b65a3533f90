package models

import "time"

// Image is one image attached to a Post, enriched by the vision stage.
type Image struct {
	Src            string  `json:"src"`
	SceneLabel     *string `json:"scene_label,omitempty"`
	FullText       *string `json:"full_text,omitempty"`
	ContextDesc    *string `json:"context_desc,omitempty"`
	VisualRhetoric *string `json:"visual_rhetoric,omitempty"`
}

// Engagement holds the crawler-authoritative engagement counters (I6).
type Engagement struct {
	Likes   int `json:"likes"`
	Replies int `json:"replies"`
	Views   int `json:"views"`
	Reposts int `json:"reposts"`
	Shares  int `json:"shares"`
}

// VisionMode is the configured gating mode for the vision stage.
type VisionMode string

const (
	VisionOff   VisionMode = "off"
	VisionAuto  VisionMode = "auto"
	VisionForce VisionMode = "force"
)

func ParseVisionMode(s string) VisionMode {
	switch VisionMode(s) {
	case VisionOff, VisionForce:
		return VisionMode(s)
	default:
		return VisionAuto
	}
}

// VisionStageRan records how far the vision gate actually ran for a post.
type VisionStageRan string

const (
	VisionStageNone VisionStageRan = "none"
	VisionStageV1   VisionStageRan = "v1"
	VisionStageV2   VisionStageRan = "v2"
)

// VisionState is the vision-gate outcome and results persisted on a Post.
type VisionState struct {
	Mode            VisionMode     `json:"mode"`
	NeedScore       float64        `json:"need_score"`
	Reasons         []string       `json:"reasons"`
	StageRan        VisionStageRan `json:"stage_ran"`
	V1              map[string]any `json:"v1,omitempty"`
	V2              map[string]any `json:"v2,omitempty"`
	Sim             *float64       `json:"sim,omitempty"`
	MetricsReliable bool           `json:"metrics_reliable"`
	UpdatedAt       *time.Time     `json:"updated_at,omitempty"`
}

// EnrichmentStatus is the phenomenon-enrichment background job status.
type EnrichmentStatus string

const (
	EnrichmentNone       EnrichmentStatus = ""
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Enrichment tracks the post-analysis phenomenon enrichment background step.
type Enrichment struct {
	Status       EnrichmentStatus `json:"status"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	RetryCount   int              `json:"retry_count"`
	LastError    *string          `json:"last_error,omitempty"`
}

// PhenomenonRef is the phenomenon identity attached to a post.
type PhenomenonRef struct {
	ID      *string `json:"id,omitempty"`
	Status  string  `json:"status,omitempty"`
	CaseID  *string `json:"case_id,omitempty"`
}

// Archive holds the optional captured HTML/DOM snapshot metadata.
type Archive struct {
	HTML        *string    `json:"html,omitempty"`
	DOMJSON     any        `json:"dom_json,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	BuildID     *string    `json:"build_id,omitempty"`
}

// Post is an ingested artifact, keyed uniquely by canonical URL (I3).
type Post struct {
	ID         string
	URL        string
	Author     string
	PostText   string
	Engagement Engagement
	Images     []Image
	RawComments []map[string]any

	ClusterSummary map[string]any
	AnalysisJSON   map[string]any
	FullReport     string

	AnalysisIsValid     bool
	AnalysisVersion     string
	AnalysisBuildID     string
	AnalysisInvalidReason string
	AnalysisMissingKeys []string

	Phenomenon PhenomenonRef
	Archive    Archive
	Vision     VisionState
	Enrichment Enrichment

	CreatedAt time.Time
	UpdatedAt time.Time
}
