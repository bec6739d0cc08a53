package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/service"
)

// Context keys set by the auth middleware.
const (
	ContextAddress    = "userAddress"
	ContextAuthMethod = "authMethod"
)

// bearerToken extracts the session token from the Authorization header or,
// failing that, the session cookie.
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// AuthMiddleware validates the session token before protected handlers run.
func AuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
			return
		}

		session, err := auth.ValidateSession(c.Request.Context(), token)
		if err != nil {
			if err == core.ErrTokenExpired {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			}
			return
		}

		c.Set(ContextAddress, session.Address)
		c.Set(ContextAuthMethod, string(session.AuthMethod))
		c.Next()
	}
}
