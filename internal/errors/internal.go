package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KindGatewayError tags failures inside the gateway itself — a store write
// that didn't land, an account that couldn't be queued — as opposed to
// internal_server_error, which the upstream stream protocol surfaces.
const KindGatewayError Kind = "gateway_error"

// AbortWithInternal reports a gateway-side failure the caller can't fix.
func AbortWithInternal(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, NewAPIError(KindGatewayError, message, details))
}
