// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Capability → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the user identity and capabilities; capability checks read
// from that context. Audit logging runs after the capability check so only
// successfully authorized mutations are recorded as successful actions.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/auth"
	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/session"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserKey         = "user"
	ContextUserIDKey       = "user_id"
	ContextIdentityIDKey   = "identity_id"
	ContextCapabilitiesKey = "capabilities"
)

// userLoader is the slice of the user repository auth needs.
type userLoader interface {
	GetUserWithMemberships(ctx context.Context, userID string) (*models.UserWithMemberships, error)
}

// AuthMiddleware validates the bearer JWT and loads the user with their
// memberships into the request context. Capabilities are computed per request
// from the user's effective role rather than embedded in the token, so a role
// change takes effect on the next request without reissuing tokens.
func AuthMiddleware(users userLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		user, err := users.GetUserWithMemberships(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not found",
			})
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "User account is deactivated",
			})
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextUserIDKey, user.ID)
		c.Set(ContextIdentityIDKey, user.IdentityID)
		c.Set(ContextCapabilitiesKey, session.CapabilitiesFor(user.EffectiveRole()))

		c.Next()
	}
}
