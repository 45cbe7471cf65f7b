// Package admin implements the administration endpoints: organization CRUD,
// member management, user administration, and aggregate reporting.
package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
)

// OrganizationStore is the slice of the organization repository the admin
// handlers use.
type OrganizationStore interface {
	GetByID(ctx context.Context, id string) (*models.Organization, error)
	Create(ctx context.Context, org *models.Organization) error
	Update(ctx context.Context, org *models.Organization) error
	Delete(ctx context.Context, orgID string) error
	List(ctx context.Context, limit, offset int) ([]*models.Organization, int, error)
	ListMembers(ctx context.Context, orgID string) ([]*models.MembershipWithUser, error)
}

// OrganizationHandlers serves the organization administration endpoints.
type OrganizationHandlers struct {
	orgs OrganizationStore
}

// NewOrganizationHandlers creates organization admin handlers.
func NewOrganizationHandlers(orgs OrganizationStore) *OrganizationHandlers {
	return &OrganizationHandlers{orgs: orgs}
}

// parsePagination reads page/per_page query parameters with the shared
// defaults and cap.
func parsePagination(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

// @Summary      List organizations
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number"
// @Param        per_page  query  int  false  "Page size (max 100)"
// @Success      200  {object}  map[string]interface{}  "organizations, pagination"
// @Router       /v1/admin/organizations [get]
// ListHandler lists organizations with pagination.
func (h *OrganizationHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := parsePagination(c)

		orgs, total, err := h.orgs.List(c.Request.Context(), perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list organizations",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"organizations": orgs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get organization
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  models.Organization
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /v1/organizations/{id} [get]
// GetHandler returns one organization.
func (h *OrganizationHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, err := h.orgs.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load organization",
			})
			return
		}
		if org == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Organization not found",
			})
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

type createOrganizationRequest struct {
	Name       string `json:"name" binding:"required"`
	OrgType    string `json:"org_type"`
	Industry   string `json:"industry"`
	Size       string `json:"size"`
	Plan       string `json:"plan"`
	SeatsTotal int    `json:"seats_total"`
}

// @Summary      Create organization
// @Tags         Admin
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  createOrganizationRequest  true  "Organization"
// @Success      201  {object}  models.Organization
// @Router       /v1/admin/organizations [post]
// CreateHandler creates an organization directly in the record store. The
// identity link stays empty: admin-created organizations are record-store
// only and are never matched to a provider organization (the sync job and
// login path look up by identity_id, which they do not have).
func (h *OrganizationHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "name is required",
			})
			return
		}

		plan := req.Plan
		if plan == "" {
			plan = "free"
		}
		org := &models.Organization{
			ID:         uuid.New().String(),
			Name:       req.Name,
			OrgType:    req.OrgType,
			Industry:   req.Industry,
			Size:       req.Size,
			Plan:       plan,
			PlanStatus: "active",
			SeatsTotal: req.SeatsTotal,
		}
		if err := h.orgs.Create(c.Request.Context(), org); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create organization",
			})
			return
		}

		c.JSON(http.StatusCreated, org)
	}
}

type updateOrganizationRequest struct {
	Name       *string `json:"name"`
	OrgType    *string `json:"org_type"`
	Industry   *string `json:"industry"`
	Size       *string `json:"size"`
	Plan       *string `json:"plan"`
	PlanStatus *string `json:"plan_status"`
	SeatsTotal *int    `json:"seats_total"`
}

// @Summary      Update organization
// @Tags         Admin
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                     true  "Organization ID"
// @Param        body  body  updateOrganizationRequest  true  "Fields to update"
// @Success      200  {object}  models.Organization
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /v1/organizations/{id} [put]
// UpdateHandler patches organization fields.
func (h *OrganizationHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, err := h.orgs.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load organization",
			})
			return
		}
		if org == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Organization not found",
			})
			return
		}

		var req updateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if req.Name != nil {
			org.Name = *req.Name
		}
		if req.OrgType != nil {
			org.OrgType = *req.OrgType
		}
		if req.Industry != nil {
			org.Industry = *req.Industry
		}
		if req.Size != nil {
			org.Size = *req.Size
		}
		if req.Plan != nil {
			org.Plan = *req.Plan
		}
		if req.PlanStatus != nil {
			org.PlanStatus = *req.PlanStatus
		}
		if req.SeatsTotal != nil {
			org.SeatsTotal = *req.SeatsTotal
		}

		if err := h.orgs.Update(c.Request.Context(), org); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update organization",
			})
			return
		}

		c.JSON(http.StatusOK, org)
	}
}

// @Summary      Delete organization
// @Description  Removes the organization record and its incident register.
// @Description  Memberships referencing it become dangling and are dropped
// @Description  from session snapshots on the next rebuild.
// @Tags         Admin
// @Security     Bearer
// @Param        id  path  string  true  "Organization ID"
// @Success      204  "Deleted"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /v1/admin/organizations/{id} [delete]
// DeleteHandler removes an organization.
func (h *OrganizationHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("id")
		org, err := h.orgs.GetByID(c.Request.Context(), orgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load organization",
			})
			return
		}
		if org == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Organization not found",
			})
			return
		}
		if err := h.orgs.Delete(c.Request.Context(), orgID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete organization",
			})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
