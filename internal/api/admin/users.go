package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/session"
)

// UserStore is the slice of the user repository the user admin handlers use.
type UserStore interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserWithMemberships(ctx context.Context, userID string) (*models.UserWithMemberships, error)
	UpdateUser(ctx context.Context, userID string, patch repositories.UserPatch) error
}

// UserHandlers serves the user administration endpoints.
type UserHandlers struct {
	users UserStore
	cache CacheInvalidator
}

// NewUserHandlers creates user admin handlers.
func NewUserHandlers(users UserStore, cache CacheInvalidator) *UserHandlers {
	return &UserHandlers{users: users, cache: cache}
}

// @Summary      List users
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number"
// @Param        per_page  query  int  false  "Page size (max 100)"
// @Success      200  {object}  map[string]interface{}  "users, pagination"
// @Router       /v1/admin/users [get]
// ListHandler lists users with pagination.
func (h *UserHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := parsePagination(c)

		users, total, err := h.users.ListUsers(c.Request.Context(), perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list users",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get user
// @Description  Returns the user record with its membership list.
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  models.UserWithMemberships
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /v1/admin/users/{id} [get]
// GetHandler returns one user with memberships.
func (h *UserHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.users.GetUserWithMemberships(c.Request.Context(), c.Param("id"))
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
		c.JSON(http.StatusOK, user)
	}
}

type updateUserRequest struct {
	Email       *string             `json:"email"`
	FirstName   *string             `json:"first_name"`
	LastName    *string             `json:"last_name"`
	Role        *string             `json:"role"`
	Active      *bool               `json:"active"`
	Preferences *models.Preferences `json:"preferences"`
}

// @Summary      Update user
// @Description  Patches user record fields. Setting active=false deactivates
// @Description  the user; records are never hard-deleted.
// @Tags         Admin
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string             true  "User ID"
// @Param        body  body  updateUserRequest  true  "Fields to update"
// @Success      200  {object}  models.User
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /v1/admin/users/{id} [put]
// UpdateHandler patches a user record.
func (h *UserHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")
		user, err := h.users.GetUserByID(c.Request.Context(), userID)
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

		var req updateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
		if req.Role != nil && *req.Role != "" && !session.KnownRole(*req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown role",
			})
			return
		}

		patch := repositories.UserPatch{
			Email:       req.Email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Role:        req.Role,
			Active:      req.Active,
			Preferences: req.Preferences,
		}
		if err := h.users.UpdateUser(c.Request.Context(), userID, patch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update user",
			})
			return
		}

		// Role and activation changes must not wait out the staleness window.
		if h.cache != nil && user.IdentityID != "" && (req.Role != nil || req.Active != nil) {
			_ = h.cache.InvalidateSessionCache(c.Request.Context(), user.IdentityID)
		}

		updated, err := h.users.GetUserByID(c.Request.Context(), userID)
		if err != nil || updated == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}
