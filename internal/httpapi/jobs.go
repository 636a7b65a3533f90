package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jasonmaxxxon/discourse-lens/internal/models"
)

// createJobRequest is the POST /api/jobs/ body.
type createJobRequest struct {
	PipelineType string         `json:"pipeline_type" validate:"required,oneof=A B C other"`
	Mode         string         `json:"mode" validate:"omitempty,oneof=ingest analyze full preview run other"`
	InputConfig  map[string]any `json:"input_config"`
}

// jobItemsPreviewLimit caps the items[] preview embedded in the
// create-job response, per spec §6's "items[] preview" note.
const jobItemsPreviewLimit = 20

// CreateJob handles POST /api/jobs/.
func (s *Server) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(c, err.Error())
		return
	}

	pipelineType := models.ParsePipelineType(req.PipelineType)
	mode := models.ParseJobMode(req.Mode)
	if req.InputConfig == nil {
		req.InputConfig = map[string]any{}
	}

	job, err := s.jobs.CreateJob(c.Request.Context(), pipelineType, mode, req.InputConfig)
	if err != nil {
		internalError(c, err)
		return
	}

	items := s.jobs.ListJobItems(c.Request.Context(), job.ID)
	preview := items.Value
	if len(preview) > jobItemsPreviewLimit {
		preview = preview[:jobItemsPreviewLimit]
	}
	c.JSON(http.StatusOK, gin.H{
		"job":   job,
		"items": preview,
	})
}

// ListJobs handles GET /api/jobs/?limit=N.
func (s *Server) ListJobs(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	result := s.jobs.ListJobs(c.Request.Context(), limit)
	degradedHeader(c, result.Degraded)
	c.Header("Cache-Control", "max-age=2")
	c.JSON(http.StatusOK, gin.H{"jobs": result.Value, "degraded": result.Degraded})
}

// GetJob handles GET /api/jobs/{id}.
func (s *Server) GetJob(c *gin.Context) {
	id := c.Param("id")
	result := s.jobs.GetJob(c.Request.Context(), id)
	if result.Value == nil {
		notFound(c, "job not found")
		return
	}
	items := s.jobs.ListJobItems(c.Request.Context(), id)
	preview := items.Value
	if len(preview) > jobItemsPreviewLimit {
		preview = preview[:jobItemsPreviewLimit]
	}
	degradedHeader(c, result.Degraded || items.Degraded)
	c.JSON(http.StatusOK, gin.H{
		"job":      result.Value,
		"items":    preview,
		"degraded": result.Degraded || items.Degraded,
	})
}

// ListJobItems handles GET /api/jobs/{id}/items?limit=M.
func (s *Server) ListJobItems(c *gin.Context) {
	id := c.Param("id")
	limit := parseIntQuery(c, "limit", 100)
	if limit > 100 {
		limit = 100
	}
	result := s.jobs.ListJobItems(c.Request.Context(), id)
	items := result.Value
	if len(items) > limit {
		items = items[:limit]
	}
	degradedHeader(c, result.Degraded)
	c.JSON(http.StatusOK, gin.H{"items": items, "degraded": result.Degraded})
}

// JobSummary handles GET /api/jobs/{id}/summary.
func (s *Server) JobSummary(c *gin.Context) {
	id := c.Param("id")
	result := s.jobs.Summary(c.Request.Context(), id)
	summary := result.Value
	status := summary.Job.Status
	if summary.Stale {
		status = models.JobStale
	}
	degradedHeader(c, result.Degraded)
	c.JSON(http.StatusOK, gin.H{
		"status":              status,
		"total_count":         summary.Job.TotalCount,
		"processed_count":     summary.Job.ProcessedCount,
		"success_count":       summary.Job.SuccessCount,
		"failed_count":        summary.Job.FailedCount,
		"last_item_updated_at": summary.Job.UpdatedAt,
		"last_heartbeat_at":   summary.Job.LastHeartbeatAt,
		"degraded":            result.Degraded,
	})
}

// LegacyRun handles POST /api/run and /api/run/{pipeline}, delegating to
// the same job-creation path as the modern endpoint (spec §6: "Legacy
// compatibility for Pipeline A/B/C. Delegates to Job Manager.").
func (s *Server) LegacyRun(c *gin.Context) {
	pipelineParam := c.Param("pipeline")
	var req createJobRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if pipelineParam != "" {
		req.PipelineType = pipelineParam
	}
	if req.InputConfig == nil {
		req.InputConfig = map[string]any{}
	}

	pipelineType := models.ParsePipelineType(req.PipelineType)
	mode := models.ParseJobMode(req.Mode)
	if mode == models.ModeOther {
		mode = models.ModeRun
	}

	job, err := s.jobs.CreateJob(c.Request.Context(), pipelineType, mode, req.InputConfig)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func parseIntQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
