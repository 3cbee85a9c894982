// Package auth provides the public edge's bearer-token check. Everything
// upstream of this middleware (JWT decoding of an account's access token) is
// a different concern and lives in the upstream package.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/eternisai/chatgpt-pool-gateway/internal/errors"
	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware validates requests using a static bearer token (the
// "auth_token" env var), compared in constant time.
type APIKeyMiddleware struct {
	apiKey string
}

// NewAPIKeyMiddleware creates a new API key middleware with the provided key.
func NewAPIKeyMiddleware(apiKey string) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		apiKey: apiKey,
	}
}

// RequireAPIKey is a middleware that validates the Bearer token against the configured API key.
func (a *APIKeyMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" {
			errors.AbortWithUnauthorized(c, "Authorization header is required", nil)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			errors.AbortWithUnauthorized(c, "Authorization header must be a Bearer token", nil)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			errors.AbortWithUnauthorized(c, "Bearer token is empty", nil)
			return
		}

		// An unset auth_token leaves the edge open: any bearer token passes.
		// LoadConfig warns loudly about this at startup.
		if a.apiKey == "" {
			c.Next()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(a.apiKey)) != 1 {
			errors.AbortWithUnauthorized(c, "Invalid API key", nil)
			return
		}

		c.Next()
	}
}
