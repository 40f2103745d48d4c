package session

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avelar/shopfence/internal/fingerprint"
)

const (
	// ContextKeyIdentity is the gin context key holding the validated *Identity.
	ContextKeyIdentity = "sessionIdentity"
	// ContextKeyToken is the gin context key holding the raw bearer token.
	ContextKeyToken = "sessionToken"
)

// RequireSession rejects requests without a valid session. Every failure gets
// the same generic 401 body; the cause is logged server-side only.
func RequireSession(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "access token required",
				"code":  "MISSING_TOKEN",
			})
			return
		}

		ident, err := m.Validate(c.Request.Context(), token, fingerprint.FromGin(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
				"code":  "INVALID_TOKEN",
			})
			return
		}

		c.Set(ContextKeyIdentity, ident)
		c.Set(ContextKeyToken, token)
		c.Next()
	}
}

// IdentityFromGin returns the identity attached by RequireSession.
func IdentityFromGin(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return nil, false
	}
	ident, ok := v.(*Identity)
	return ident, ok
}

// BearerToken extracts the bearer credential from the Authorization header,
// or returns "" when absent.
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}
