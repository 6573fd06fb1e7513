package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	userIDHeader = "X-User-ID"

	// UserIDKey is the gin context key carrying the authenticated user.
	UserIDKey = "user_id"
)

// Identity extracts the authenticated user identity from the request.
// Token issuance and verification happen upstream; this pipeline only
// consumes the resulting identity and refuses requests that lack one.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing user identity",
			})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}
