package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KindNoResponse tags an empty turn: the scheduler came back without any
// assistant text to return.
const KindNoResponse Kind = "no_response"

// AbortWithNotFound renders the gateway's empty-result 404.
func AbortWithNotFound(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusNotFound, NewAPIError(KindNoResponse, message, details))
}
