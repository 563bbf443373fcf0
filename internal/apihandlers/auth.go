package apihandlers

import (
	"github.com/gin-gonic/gin"
)

const userContextKey = "user_id"

// RequireUser resolves the authenticated user for the request. The gateway
// in front of this service verifies the identity token and forwards the
// user id in X-User-ID; everything behind the middleware trusts it.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			Unauthorized(c, "missing user identity")
			c.Abort()
			return
		}
		c.Set(userContextKey, userID)
		c.Next()
	}
}

// CurrentUser returns the user id set by RequireUser.
func CurrentUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}
