package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KindInvalidRequest tags edge-side rejections: a body that does not bind,
// or a completion request the translator cannot render upstream. These
// never reach the pool scheduler.
const KindInvalidRequest Kind = "invalid_request"

// AbortWithBadRequest rejects a request that failed validation before
// session selection.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewAPIError(KindInvalidRequest, message, details))
}
