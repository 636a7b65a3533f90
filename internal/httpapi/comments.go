package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jasonmaxxxon/discourse-lens/internal/store"
)

const commentsPageLimit = 50

// CommentsByPost handles GET /api/comments/by-post/{post_id}.
func (s *Server) CommentsByPost(c *gin.Context) {
	postID := c.Param("post_id")
	sort := store.ParseCommentSort(c.Query("sort"))
	limit := parseIntQuery(c, "limit", commentsPageLimit)
	offset := parseIntQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	comments, err := s.posts.CommentsByPost(c.Request.Context(), postID, sort, limit, offset)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// SearchComments handles GET /api/comments/search.
func (s *Server) SearchComments(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		badRequest(c, "q is required")
		return
	}
	limit := parseIntQuery(c, "limit", commentsPageLimit)

	comments, err := s.posts.SearchComments(c.Request.Context(), store.CommentSearchFilter{
		Query:  query,
		Author: c.Query("author"),
		PostID: c.Query("post_id"),
	}, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}
