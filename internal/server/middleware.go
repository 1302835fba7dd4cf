package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerFallbacks answers unknown routes with the JSON envelope instead of
// gin's plain text bodies.
func registerFallbacks(r *gin.Engine) {
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
	r.NoMethod(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, envelope{
			Success: false,
			Message: "method not allowed",
			Error: &errorPayload{
				Type: "invalid_request",
				Code: "method_not_allowed",
			},
		})
	})
}
