package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"sealdrop/internal/auth"
	"sealdrop/internal/identity"
)

const uidContextKey = "uid"

func UIDFromContext(c *gin.Context) (string, bool) {
	uid, ok := c.Get(uidContextKey)
	if !ok {
		return "", false
	}
	value, ok := uid.(string)
	return value, ok && value != ""
}

// RequireAuth verifies the bearer token cryptographically, then against the
// identity store. The store check enforces single-active-token semantics and
// the inactivity timeout, and refreshes lastActiveAt as a side effect.
func RequireAuth(cfg auth.TokenConfig, ids identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}
		token := parts[1]

		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		if _, err := ids.Authenticate(c.Request.Context(), claims.UID, token, time.Now().UnixMilli()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(uidContextKey, claims.UID)
		c.Next()
	}
}
