package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Auth requires the static control token on every request. The token may
// be sent as a bearer token or, for WebSocket clients, as ?token=. An empty
// token disables the check.
func Auth(token string) gin.HandlerFunc {
	expected := []byte(token)

	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}

		presented := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				return
			}
			presented = strings.TrimSpace(parts[1])
		}
		if presented == "" {
			presented = c.Query("token")
		}

		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Next()
	}
}
