package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/session"
)

// MembershipStore is the slice of the user repository the member handlers use.
type MembershipStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	AddMembership(ctx context.Context, m *models.OrganizationMembership) error
	UpdateMembershipRole(ctx context.Context, userID, orgID, role string) error
	RemoveMembership(ctx context.Context, userID, orgID string) error
}

// CacheInvalidator drops a user's cached session snapshot so membership
// changes are visible on their next request instead of after the staleness
// window.
type CacheInvalidator interface {
	InvalidateSessionCache(ctx context.Context, identityID string) error
}

// MemberHandlers serves the organization member administration endpoints.
type MemberHandlers struct {
	users MembershipStore
	orgs  OrganizationStore
	cache CacheInvalidator
}

// NewMemberHandlers creates member admin handlers.
func NewMemberHandlers(users MembershipStore, orgs OrganizationStore, cache CacheInvalidator) *MemberHandlers {
	return &MemberHandlers{users: users, orgs: orgs, cache: cache}
}

// @Summary      List members
// @Tags         Members
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}  "members"
// @Router       /v1/organizations/{id}/members [get]
// ListHandler lists the organization's members.
func (h *MemberHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := h.orgs.ListMembers(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list members",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"members": members,
		})
	}
}

type addMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// @Summary      Add member
// @Description  Adds a user to the organization. First membership becomes primary.
// @Tags         Members
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Organization ID"
// @Param        body  body  addMemberRequest  true  "Member"
// @Success      201  {object}  models.OrganizationMembership
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /v1/organizations/{id}/members [post]
// AddHandler adds a user to the organization.
func (h *MemberHandlers) AddHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "user_id and role are required",
			})
			return
		}
		if !session.KnownRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown role",
			})
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}

		m := &models.OrganizationMembership{
			UserID:         req.UserID,
			OrganizationID: c.Param("id"),
			Role:           req.Role,
		}
		if err := h.users.AddMembership(c.Request.Context(), m); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to add member",
			})
			return
		}

		h.invalidate(c, user)
		c.JSON(http.StatusCreated, m)
	}
}

type updateMemberRequest struct {
	Role string `json:"role" binding:"required"`
}

// @Summary      Update member role
// @Tags         Members
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id       path  string               true  "Organization ID"
// @Param        user_id  path  string               true  "User ID"
// @Param        body     body  updateMemberRequest  true  "New role"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Membership not found"
// @Router       /v1/organizations/{id}/members/{user_id} [put]
// UpdateRoleHandler changes a member's role.
func (h *MemberHandlers) UpdateRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "role is required",
			})
			return
		}
		if !session.KnownRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown role",
			})
			return
		}

		userID, orgID := c.Param("user_id"), c.Param("id")
		if err := h.users.UpdateMembershipRole(c.Request.Context(), userID, orgID, req.Role); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Membership not found",
			})
			return
		}

		if user, err := h.users.GetUserByID(c.Request.Context(), userID); err == nil && user != nil {
			h.invalidate(c, user)
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":         userID,
			"organization_id": orgID,
			"role":            req.Role,
		})
	}
}

// @Summary      Remove member
// @Description  Removes a user from the organization. If the removed membership
// @Description  was primary, the first remaining membership is promoted.
// @Tags         Members
// @Security     Bearer
// @Param        id       path  string  true  "Organization ID"
// @Param        user_id  path  string  true  "User ID"
// @Success      204  "Removed"
// @Failure      404  {object}  map[string]interface{}  "Membership not found"
// @Router       /v1/organizations/{id}/members/{user_id} [delete]
// RemoveHandler removes a user from the organization.
func (h *MemberHandlers) RemoveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, orgID := c.Param("user_id"), c.Param("id")
		if err := h.users.RemoveMembership(c.Request.Context(), userID, orgID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Membership not found",
			})
			return
		}

		if user, err := h.users.GetUserByID(c.Request.Context(), userID); err == nil && user != nil {
			h.invalidate(c, user)
		}
		c.Status(http.StatusNoContent)
	}
}

// invalidate drops the affected user's cached snapshot. Failure is logged and
// otherwise ignored; the snapshot self-heals at the staleness threshold.
func (h *MemberHandlers) invalidate(c *gin.Context, user *models.User) {
	if h.cache == nil || user.IdentityID == "" {
		return
	}
	if err := h.cache.InvalidateSessionCache(c.Request.Context(), user.IdentityID); err != nil {
		slog.Warn("failed to invalidate session cache after membership change",
			"user_id", user.ID, "error", err)
	}
}
