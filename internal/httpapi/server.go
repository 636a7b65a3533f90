// Package httpapi implements the HTTP API surface (C7): job submission and
// read endpoints, post/comment/phenomenon read endpoints, and the legacy
// /api/run compatibility route. Grounded on codeready-toolchain-tarsy's
// pkg/api (gin.Engine, gin.H error bodies, Server wrapping a manager) —
// generalized from tarsy's session endpoints to this system's job/post/
// phenomenon endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jasonmaxxxon/discourse-lens/internal/jobmanager"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/store"
	"github.com/jasonmaxxxon/discourse-lens/internal/version"
)

// JobService is the subset of *jobmanager.Manager the API needs, narrowed
// so handler tests can substitute an in-memory fake instead of standing
// up a worker pool and a Postgres-backed store.
type JobService interface {
	CreateJob(ctx context.Context, pipelineType models.PipelineType, mode models.JobMode, inputConfig map[string]any) (*models.Job, error)
	GetJob(ctx context.Context, id string) jobmanager.Result[*models.Job]
	ListJobs(ctx context.Context, limit int) jobmanager.Result[[]models.Job]
	ListJobItems(ctx context.Context, jobID string) jobmanager.Result[[]models.JobItem]
	Summary(ctx context.Context, jobID string) jobmanager.Result[jobmanager.Summary]
}

// PostReader is the subset of *store.Store the post/comment read
// endpoints need.
type PostReader interface {
	ListPosts(ctx context.Context, limit int) ([]models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	CommentsByPost(ctx context.Context, postID string, sort store.CommentSort, limit, offset int) ([]models.Comment, error)
	SearchComments(ctx context.Context, f store.CommentSearchFilter, limit int) ([]models.Comment, error)
}

// PhenomenonReader is the subset of *store.Phenomena the library
// endpoints need.
type PhenomenonReader interface {
	ListPhenomena(ctx context.Context, status, q string) ([]models.Phenomenon, error)
	GetPhenomenon(ctx context.Context, id string) (*models.Phenomenon, error)
	PostsForPhenomenon(ctx context.Context, id string, limit int) ([]models.Post, error)
}

// Promoter is the phenomenon registry's governance transition, narrowed
// from *phenomenon.Registry.
type Promoter interface {
	Promote(ctx context.Context, id string) error
}

// Server wires gin routes to the job manager, store, and phenomenon
// registry. Kept as a thin adapter layer: every handler delegates to
// already-built domain packages and only does request parsing/response
// shaping here.
type Server struct {
	jobs      JobService
	posts     PostReader
	phenomena PhenomenonReader
	registry  Promoter
	validate  *validator.Validate
}

// New builds the gin engine and registers every route.
func New(jobs JobService, posts PostReader, phenomena PhenomenonReader, registry Promoter, ginMode string) *gin.Engine {
	gin.SetMode(ginMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		jobs:      jobs,
		posts:     posts,
		phenomena: phenomena,
		registry:  registry,
		validate:  validator.New(),
	}

	router.GET("/health", s.Health)

	api := router.Group("/api")
	{
		jobs := api.Group("/jobs")
		jobs.POST("/", s.CreateJob)
		jobs.GET("/", s.ListJobs)
		jobs.GET("/:id", s.GetJob)
		jobs.GET("/:id/items", s.ListJobItems)
		jobs.GET("/:id/summary", s.JobSummary)

		api.GET("/posts", s.ListPosts)
		api.GET("/analysis-json/:post_id", s.AnalysisJSON)
		api.GET("/analysis/:post_id", s.AnalysisReport)

		comments := api.Group("/comments")
		comments.GET("/by-post/:post_id", s.CommentsByPost)
		comments.GET("/search", s.SearchComments)

		library := api.Group("/library/phenomena")
		library.GET("/", s.ListPhenomena)
		library.GET("/:id", s.GetPhenomenon)
		library.POST("/:id/promote", s.PromotePhenomenon)

		api.POST("/run", s.LegacyRun)
		api.POST("/run/:pipeline", s.LegacyRun)
	}

	return router
}

// requestLogger mirrors gin's default logger output through slog instead
// of gin's own writer, so HTTP access logs carry the same structured
// fields as the rest of the process.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// Health reports process liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}
