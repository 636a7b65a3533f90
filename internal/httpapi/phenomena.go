package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jasonmaxxxon/discourse-lens/internal/phenomenon"
)

const phenomenonPostsLimit = 20

// ListPhenomena handles GET /api/library/phenomena.
func (s *Server) ListPhenomena(c *gin.Context) {
	list, err := s.phenomena.ListPhenomena(c.Request.Context(), c.Query("status"), c.Query("q"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phenomena": list})
}

// GetPhenomenon handles GET /api/library/phenomena/{id}.
func (s *Server) GetPhenomenon(c *gin.Context) {
	id := c.Param("id")
	phen, err := s.phenomena.GetPhenomenon(c.Request.Context(), id)
	if err != nil {
		internalError(c, err)
		return
	}
	if phen == nil {
		notFound(c, "phenomenon not found")
		return
	}
	posts, err := s.phenomena.PostsForPhenomenon(c.Request.Context(), id, phenomenonPostsLimit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phenomenon": phen, "posts": posts})
}

// PromotePhenomenon handles POST /api/library/phenomena/{id}/promote.
func (s *Server) PromotePhenomenon(c *gin.Context) {
	id := c.Param("id")
	err := s.registry.Promote(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"status": "active"})
		return
	}
	if errors.Is(err, phenomenon.ErrNotFound) {
		notFound(c, "phenomenon not found")
		return
	}
	var notPromotable *phenomenon.ErrNotPromotable
	if errors.As(err, &notPromotable) {
		conflict(c, notPromotable.Error())
		return
	}
	internalError(c, err)
}
