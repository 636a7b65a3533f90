package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const postsListLimit = 20

// ListPosts handles GET /api/posts.
func (s *Server) ListPosts(c *gin.Context) {
	posts, err := s.posts.ListPosts(c.Request.Context(), postsListLimit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

// AnalysisJSON handles GET /api/analysis-json/{post_id}.
func (s *Server) AnalysisJSON(c *gin.Context) {
	id := c.Param("post_id")
	post, err := s.posts.GetPost(c.Request.Context(), id)
	if err != nil {
		internalError(c, err)
		return
	}
	if post == nil {
		notFound(c, "post not found")
		return
	}
	if !post.AnalysisIsValid {
		respondError(c, http.StatusNotFound, "analysis not available", gin.H{
			"reason": post.AnalysisInvalidReason,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_json":    post.AnalysisJSON,
		"analysis_version": post.AnalysisVersion,
		"analysis_build_id": post.AnalysisBuildID,
		"missing_keys":     post.AnalysisMissingKeys,
	})
}

// AnalysisReport handles GET /api/analysis/{post_id}.
func (s *Server) AnalysisReport(c *gin.Context) {
	id := c.Param("post_id")
	post, err := s.posts.GetPost(c.Request.Context(), id)
	if err != nil {
		internalError(c, err)
		return
	}
	if post == nil {
		notFound(c, "post not found")
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(post.FullReport))
}
