// Package models holds the closed, tagged domain records shared across the
// core: jobs and items (C6), posts/comments/clusters (C1-C4 inputs and
// outputs), and the phenomenon registry (C3). Enum-shaped fields are
// modeled as string-based types with a reserved "other" variant so unknown
// values read back from the store are coerced and logged, never panicked on.
package models

import "time"

// PipelineType is the job flavor: A=single URL, B=keyword batch, C=home-feed sample.
type PipelineType string

const (
	PipelineA     PipelineType = "A"
	PipelineB     PipelineType = "B"
	PipelineC     PipelineType = "C"
	PipelineOther PipelineType = "other"
)

// ParsePipelineType coerces a wire value to a known PipelineType, logging
// (at the caller) and falling back to PipelineOther for anything unrecognized.
func ParsePipelineType(s string) PipelineType {
	switch PipelineType(s) {
	case PipelineA, PipelineB, PipelineC:
		return PipelineType(s)
	default:
		return PipelineOther
	}
}

// JobMode is the requested processing mode for a job.
type JobMode string

const (
	ModeIngest  JobMode = "ingest"
	ModeAnalyze JobMode = "analyze"
	ModeFull    JobMode = "full"
	ModePreview JobMode = "preview"
	ModeRun     JobMode = "run"
	ModeOther   JobMode = "other"
)

func ParseJobMode(s string) JobMode {
	switch JobMode(s) {
	case ModeIngest, ModeAnalyze, ModeFull, ModePreview, ModeRun:
		return JobMode(s)
	default:
		return ModeOther
	}
}

// JobStatus is the job lifecycle status.
type JobStatus string

const (
	JobDiscovering JobStatus = "discovering"
	JobProcessing  JobStatus = "processing"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobStale       JobStatus = "stale"
	JobOther       JobStatus = "other"
)

func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case JobDiscovering, JobProcessing, JobCompleted, JobFailed, JobStale:
		return JobStatus(s)
	default:
		return JobOther
	}
}

// Job is a batch of JobItems submitted together.
type Job struct {
	ID              string
	PipelineType    PipelineType
	Mode            JobMode
	InputConfig     map[string]any
	Status          JobStatus
	TotalCount      int
	ProcessedCount  int
	SuccessCount    int
	FailedCount     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      *time.Time
	LastHeartbeatAt *time.Time
	ErrorSummary    *string
}

// ReprocessPolicy controls Pipeline B's handling of URLs already ingested.
type ReprocessPolicy string

const (
	ReprocessSkipIfExists    ReprocessPolicy = "skip_if_exists"
	ReprocessForceIfKeyword  ReprocessPolicy = "force_if_keyword_hit"
	ReprocessForceAll        ReprocessPolicy = "force_all"
	ReprocessPolicyOther     ReprocessPolicy = "other"
)

func ParseReprocessPolicy(s string) ReprocessPolicy {
	switch ReprocessPolicy(s) {
	case ReprocessSkipIfExists, ReprocessForceIfKeyword, ReprocessForceAll:
		return ReprocessPolicy(s)
	default:
		if s == "" {
			return ReprocessSkipIfExists
		}
		return ReprocessPolicyOther
	}
}

// ItemStatus is the claim-level status of a JobItem.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemOther      ItemStatus = "other"
)

func ParseItemStatus(s string) ItemStatus {
	switch ItemStatus(s) {
	case ItemPending, ItemProcessing, ItemCompleted, ItemFailed:
		return ItemStatus(s)
	default:
		return ItemOther
	}
}

// Stage is the pipeline stage a JobItem is (or last was) executing.
type Stage string

const (
	StageInit      Stage = "init"
	StageFetch     Stage = "fetch"
	StageVision    Stage = "vision"
	StageAnalyst   Stage = "analyst"
	StageStore     Stage = "store"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
	StageOther     Stage = "other"
)

func ParseStage(s string) Stage {
	switch Stage(s) {
	case StageInit, StageFetch, StageVision, StageAnalyst, StageStore, StageCompleted, StageFailed:
		return Stage(s)
	default:
		return StageOther
	}
}

// JobItem is one target within a job; single-writer while leased.
type JobItem struct {
	ID             string
	JobID          string
	TargetID       string
	Status         ItemStatus
	Stage          Stage
	Attempts       int
	WorkerID       *string
	LeaseExpiresAt *time.Time
	ResultPostID   *string
	ErrorLog       *string
	UpdatedAt      time.Time
}
