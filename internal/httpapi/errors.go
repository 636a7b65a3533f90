package httpapi

import "github.com/gin-gonic/gin"

// errorBody is the wire shape for every non-2xx response (spec §6: `{detail,
// dev_context?}`). Grounded on tarsy's handlers.go gin.H{"error": ...}
// convention, renamed/extended to the richer detail+dev_context shape this
// API documents.
type errorBody struct {
	Detail     string `json:"detail"`
	DevContext any    `json:"dev_context,omitempty"`
}

func respondError(c *gin.Context, status int, detail string, devContext any) {
	c.JSON(status, errorBody{Detail: detail, DevContext: devContext})
}

func badRequest(c *gin.Context, detail string) {
	respondError(c, 400, detail, nil)
}

func notFound(c *gin.Context, detail string) {
	respondError(c, 404, detail, nil)
}

func conflict(c *gin.Context, detail string) {
	respondError(c, 409, detail, nil)
}

func internalError(c *gin.Context, err error) {
	respondError(c, 500, "internal error", gin.H{"error": err.Error()})
}

// degradedHeader sets the x-ops-degraded marker spec §6 requires whenever
// a read-path response is served from the degraded-read fallback.
func degradedHeader(c *gin.Context, degraded bool) {
	if degraded {
		c.Header("x-ops-degraded", "1")
	}
}
