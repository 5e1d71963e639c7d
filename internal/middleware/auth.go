package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UserContextKey is the gin context key holding the authenticated user id.
const UserContextKey = "userID"

// Authenticator resolves the caller of a request.
type Authenticator interface {
	UserIDFromRequest(r *http.Request) (int, error)
}

// AuthMiddleware validates the session token from the cookie or the
// Authorization header and stores the user id on the context.
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := authenticator.UserIDFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserContextKey, userID)
		c.Next()
	}
}
