package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/shared/auth"
	"vibe-backend/internal/shared/server/respond"
)

const (
	accountIDKey   = "accountId"
	accountNameKey = "accountName"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Auth verifies an optional bearer token and stores the account id in context.
// Requests without an Authorization header continue anonymously; a header that
// is present but invalid is rejected.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") || verifier == nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(accountIDKey, claims.Subject)
		if claims.Name != "" {
			c.Set(accountNameKey, claims.Name)
		}
		c.Next()
	}
}

// RequireAccount rejects requests that did not present a verified token.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if AccountIDFromContext(c) == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
			return
		}
		c.Next()
	}
}

// AccountIDFromContext fetches the account ID set by the auth middleware.
func AccountIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(accountIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}

// AccountNameFromContext fetches the display name carried by the token.
func AccountNameFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(accountNameKey)
	if name, ok := val.(string); ok {
		return name
	}
	return ""
}
