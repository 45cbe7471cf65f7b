// Package onboarding implements the first-run onboarding endpoints. They are
// authenticated via the one-time onboarding token (not JWT) and are permanently
// disabled once onboarding completes. The intended flow: deploy, log in once
// through the identity provider so a user record exists, promote that account
// to super_admin with the token, then complete onboarding to retire the token.
package onboarding

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/session"
)

// settingsStore is the slice of the settings repository the handlers use.
type settingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	IsOnboardingCompleted(ctx context.Context) (bool, error)
}

// userStore covers the user lookups and the role patch the admin endpoint needs.
type userStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, userID string, patch repositories.UserPatch) error
}

// CacheInvalidator drops a user's cached session snapshot after promotion.
type CacheInvalidator interface {
	InvalidateSessionCache(ctx context.Context, identityID string) error
}

// Handlers serves the onboarding endpoints.
type Handlers struct {
	settings settingsStore
	users    userStore
	cache    CacheInvalidator
}

// NewHandlers creates onboarding handlers.
func NewHandlers(settings settingsStore, users userStore, cache CacheInvalidator) *Handlers {
	return &Handlers{settings: settings, users: users, cache: cache}
}

// @Summary      Onboarding status
// @Description  Reports whether first-run onboarding has completed. No authentication required.
// @Tags         Onboarding
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "onboarding_completed, admin_configured"
// @Router       /v1/onboarding/status [get]
// StatusHandler reports onboarding progress.
func (h *Handlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		completed, err := h.settings.IsOnboardingCompleted(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read onboarding status",
			})
			return
		}

		adminEmail, err := h.settings.Get(ctx, repositories.SettingOnboardingAdminEmail)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read onboarding status",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"onboarding_completed": completed,
			"admin_configured":     adminEmail != "",
		})
	}
}

// @Summary      Validate onboarding token
// @Description  Returns 200 if the presented onboarding token is valid. Used by the setup frontend before proceeding.
// @Tags         Onboarding
// @Security     OnboardingToken
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "valid"
// @Failure      401  {object}  map[string]interface{}  "Invalid onboarding token"
// @Failure      403  {object}  map[string]interface{}  "Onboarding already completed"
// @Router       /v1/onboarding/validate-token [post]
// ValidateTokenHandler confirms the token. The middleware has already checked it.
func (h *Handlers) ValidateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"valid": true,
		})
	}
}

type configureAdminRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// @Summary      Promote initial administrator
// @Description  Promotes an existing user (matched by email) to super_admin.
// @Description  The user must have logged in at least once so their record exists.
// @Tags         Onboarding
// @Security     OnboardingToken
// @Accept       json
// @Produce      json
// @Param        body  body  configureAdminRequest  true  "Administrator email"
// @Success      200  {object}  map[string]interface{}  "email, role"
// @Failure      400  {object}  map[string]interface{}  "Invalid email"
// @Failure      404  {object}  map[string]interface{}  "No user with that email"
// @Router       /v1/onboarding/admin [post]
// ConfigureAdminHandler promotes the initial super_admin.
func (h *Handlers) ConfigureAdminHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req configureAdminRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "A valid email address is required",
			})
			return
		}

		ctx := c.Request.Context()
		email := strings.TrimSpace(strings.ToLower(req.Email))

		user, err := h.users.GetUserByEmail(ctx, email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up user",
			})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No user with that email. Log in through the identity provider first.",
			})
			return
		}

		role := session.RoleSuperAdmin
		if err := h.users.UpdateUser(ctx, user.ID, repositories.UserPatch{Role: &role}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to promote user",
			})
			return
		}
		if err := h.settings.Set(ctx, repositories.SettingOnboardingAdminEmail, email); err != nil {
			slog.Warn("failed to record onboarding admin email", "error", err)
		}

		// The promoted account's cached snapshot still carries the old role.
		if h.cache != nil && user.IdentityID != "" {
			if err := h.cache.InvalidateSessionCache(ctx, user.IdentityID); err != nil {
				slog.Warn("failed to invalidate session cache after promotion",
					"user_id", user.ID, "error", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"email": email,
			"role":  session.RoleSuperAdmin,
		})
	}
}

// @Summary      Complete onboarding
// @Description  Finalizes first-run onboarding. Requires an administrator to
// @Description  have been configured; permanently disables the onboarding
// @Description  endpoints.
// @Tags         Onboarding
// @Security     OnboardingToken
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "onboarding_completed"
// @Failure      400  {object}  map[string]interface{}  "Administrator not configured yet"
// @Router       /v1/onboarding/complete [post]
// CompleteHandler finishes onboarding and retires the token.
func (h *Handlers) CompleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		adminEmail, err := h.settings.Get(ctx, repositories.SettingOnboardingAdminEmail)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check onboarding status",
			})
			return
		}
		if adminEmail == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "An administrator must be configured before completing onboarding",
			})
			return
		}

		if err := h.settings.Set(ctx, repositories.SettingOnboardingCompleted, "true"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to complete onboarding",
			})
			return
		}

		slog.Info("onboarding completed", "admin_email", adminEmail)
		c.JSON(http.StatusOK, gin.H{
			"onboarding_completed": true,
		})
	}
}
