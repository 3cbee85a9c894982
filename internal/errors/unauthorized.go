package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KindUnauthorized tags a missing or mismatched edge bearer token. Distinct
// from the access-token kinds, which concern an account's upstream
// credential rather than the caller's.
const KindUnauthorized Kind = "unauthorized"

// AbortWithUnauthorized rejects a request that failed the bearer-token check.
func AbortWithUnauthorized(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewAPIError(KindUnauthorized, message, details))
}
