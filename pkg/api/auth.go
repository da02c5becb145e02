package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

// requireAPIKey guards mutating routes. An empty configured key disables the
// check, which is only acceptable for local development.
func requireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		presented := c.GetHeader(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope{Error: errorBody{
				Kind:    KindUnauthorized,
				Message: "missing or invalid API key",
			}})
			return
		}
		c.Next()
	}
}
