// Package sessions implements the session endpoints: login against an
// identity-provider token, cache-gated session retrieval, forced refresh,
// invalidation, and primary-organization switching.
package sessions

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/auth"
	"github.com/compliance-hub/compliance-hub/internal/identity"
	"github.com/compliance-hub/compliance-hub/internal/middleware"
	"github.com/compliance-hub/compliance-hub/internal/session"
)

// TokenVerifier validates an identity-provider session token.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*identity.TokenClaims, error)
}

// SessionService is the slice of the session service the handlers need.
type SessionService interface {
	ProcessLogin(ctx context.Context, identityID string, forceRefresh bool) (*session.Snapshot, session.PushResult, error)
	InvalidateSessionCache(ctx context.Context, identityID string) error
	SwitchPrimaryOrganization(ctx context.Context, identityID, orgID string) (*session.Snapshot, session.PushResult, error)
}

// Handlers serves the session endpoints.
type Handlers struct {
	verifier TokenVerifier
	sessions SessionService
	tokenTTL time.Duration
}

// NewHandlers creates session handlers. tokenTTL <= 0 selects 24h, matching
// the session staleness window so a token never outlives more than one
// snapshot generation.
func NewHandlers(verifier TokenVerifier, sessions SessionService, tokenTTL time.Duration) *Handlers {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handlers{verifier: verifier, sessions: sessions, tokenTTL: tokenTTL}
}

// sessionResponse is the envelope every session-returning endpoint shares.
func sessionResponse(s *session.Snapshot, result session.PushResult) gin.H {
	resp := gin.H{"session": s}
	if result.Skipped {
		resp["cache_write_skipped"] = true
		resp["cache_skip_reason"] = result.Reason
	}
	return resp
}

// @Summary      Login
// @Description  Exchange an identity-provider session token for a service JWT and the materialized session.
// @Tags         Sessions
// @Produce      json
// @Param        Authorization  header  string  true  "Bearer <provider session token>"
// @Success      200  {object}  map[string]interface{}  "token, session"
// @Failure      401  {object}  map[string]interface{}  "Invalid provider token"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /v1/auth/login [post]
// LoginHandler verifies the provider token, materializes the session, and
// issues a service JWT.
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken := bearerToken(c)
		if rawToken == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing provider session token",
			})
			return
		}

		claims, err := h.verifier.Verify(c.Request.Context(), rawToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid provider session token",
			})
			return
		}

		snapshot, result, err := h.sessions.ProcessLogin(c.Request.Context(), claims.Subject, false)
		if err != nil {
			if errors.Is(err, session.ErrUserNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "User not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to process login",
			})
			return
		}

		token, err := auth.GenerateJWT(snapshot.User.ID, snapshot.User.IdentityID, snapshot.User.Email, h.tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to issue token",
			})
			return
		}

		resp := sessionResponse(snapshot, result)
		resp["token"] = token
		c.JSON(http.StatusOK, resp)
	}
}

// @Summary      Get session
// @Description  Return the current session, rebuilding it when the cached snapshot is older than the staleness threshold.
// @Tags         Sessions
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "session"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /v1/session [get]
// GetSessionHandler serves the cache-gated session for the authenticated user.
func (h *Handlers) GetSessionHandler() gin.HandlerFunc {
	return h.materialize(false)
}

// @Summary      Refresh session
// @Description  Force a session rebuild, bypassing the cache gate.
// @Tags         Sessions
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "session"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /v1/session/refresh [post]
// RefreshSessionHandler rebuilds the session regardless of snapshot age.
func (h *Handlers) RefreshSessionHandler() gin.HandlerFunc {
	return h.materialize(true)
}

func (h *Handlers) materialize(force bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		identityID := c.GetString(middleware.ContextIdentityIDKey)
		if identityID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}

		snapshot, result, err := h.sessions.ProcessLogin(c.Request.Context(), identityID, force)
		if err != nil {
			if errors.Is(err, session.ErrUserNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "User not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to materialize session",
			})
			return
		}

		c.JSON(http.StatusOK, sessionResponse(snapshot, result))
	}
}

// @Summary      Invalidate session cache
// @Description  Force the cached session stale so the next request rebuilds it.
// @Tags         Sessions
// @Security     Bearer
// @Produce      json
// @Success      204  "Invalidated"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /v1/session/invalidate [post]
// InvalidateHandler marks the user's cached session stale.
func (h *Handlers) InvalidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identityID := c.GetString(middleware.ContextIdentityIDKey)
		if identityID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}

		if err := h.sessions.InvalidateSessionCache(c.Request.Context(), identityID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to invalidate session cache",
			})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

type switchPrimaryRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
}

// @Summary      Switch primary organization
// @Description  Move the primary flag to another organization the user belongs to and rebuild the session.
// @Tags         Sessions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  switchPrimaryRequest  true  "Target organization"
// @Success      200  {object}  map[string]interface{}  "session"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      409  {object}  map[string]interface{}  "Not a member"
// @Router       /v1/session/primary-organization [put]
// SwitchPrimaryHandler changes the authenticated user's primary organization.
func (h *Handlers) SwitchPrimaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identityID := c.GetString(middleware.ContextIdentityIDKey)
		if identityID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}

		var req switchPrimaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "organization_id is required",
			})
			return
		}

		snapshot, result, err := h.sessions.SwitchPrimaryOrganization(c.Request.Context(), identityID, req.OrganizationID)
		if err != nil {
			if errors.Is(err, session.ErrUserNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "User not found",
				})
				return
			}
			// The only other repository failure mode here is "not a member".
			c.JSON(http.StatusConflict, gin.H{
				"error": "User is not a member of this organization",
			})
			return
		}

		c.JSON(http.StatusOK, sessionResponse(snapshot, result))
	}
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
