// Package incidents implements the compliance incident endpoints: CRUD,
// status transitions, and per-organization reporting counts.
package incidents

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/middleware"
)

// IncidentStore is the slice of the incident repository the handlers use.
type IncidentStore interface {
	Create(ctx context.Context, inc *models.Incident) error
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	ListByOrganization(ctx context.Context, orgID, status string, limit, offset int) ([]*models.Incident, error)
	Update(ctx context.Context, inc *models.Incident) error
	CountByStatusAndSeverity(ctx context.Context, orgID string) ([]repositories.StatusCount, error)
	CountOverdueNotifications(ctx context.Context, orgID string, now time.Time) (int, error)
}

// Handlers serves the incident endpoints.
type Handlers struct {
	incidents IncidentStore
}

// NewHandlers creates incident handlers.
func NewHandlers(incidents IncidentStore) *Handlers {
	return &Handlers{incidents: incidents}
}

type createIncidentRequest struct {
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	Severity        string     `json:"severity"`
	AffectedRecords int        `json:"affected_records"`
	OccurredAt      *time.Time `json:"occurred_at"`
	NotifyDeadline  *time.Time `json:"notify_deadline"`
}

// @Summary      Create incident
// @Description  Record a new compliance incident for the organization.
// @Tags         Incidents
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                 true  "Organization ID"
// @Param        body  body  createIncidentRequest  true  "Incident"
// @Success      201  {object}  models.Incident
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Router       /v1/organizations/{id}/incidents [post]
// CreateHandler records a new incident.
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createIncidentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "title is required",
			})
			return
		}
		if req.Severity != "" && !models.ValidSeverity(req.Severity) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid severity",
			})
			return
		}

		inc := &models.Incident{
			ID:              uuid.New().String(),
			OrganizationID:  c.Param("id"),
			Title:           req.Title,
			Description:     req.Description,
			Severity:        req.Severity,
			AffectedRecords: req.AffectedRecords,
			ReportedBy:      c.GetString(middleware.ContextUserIDKey),
			OccurredAt:      req.OccurredAt,
			NotifyDeadline:  req.NotifyDeadline,
		}
		if err := h.incidents.Create(c.Request.Context(), inc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create incident",
			})
			return
		}

		c.JSON(http.StatusCreated, inc)
	}
}

// @Summary      List incidents
// @Description  List the organization's incidents, optionally filtered by status.
// @Tags         Incidents
// @Security     Bearer
// @Produce      json
// @Param        id      path   string  true   "Organization ID"
// @Param        status  query  string  false  "Status filter"
// @Success      200  {object}  map[string]interface{}  "incidents, pagination"
// @Router       /v1/organizations/{id}/incidents [get]
// ListHandler lists the organization's incidents.
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		status := c.Query("status")
		incidents, err := h.incidents.ListByOrganization(
			c.Request.Context(), c.Param("id"), status, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list incidents",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"incidents": incidents,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
			},
		})
	}
}

// @Summary      Get incident
// @Tags         Incidents
// @Security     Bearer
// @Produce      json
// @Param        id           path  string  true  "Organization ID"
// @Param        incident_id  path  string  true  "Incident ID"
// @Success      200  {object}  models.Incident
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /v1/organizations/{id}/incidents/{incident_id} [get]
// GetHandler returns a single incident.
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inc := h.loadOrgIncident(c)
		if inc == nil {
			return
		}
		c.JSON(http.StatusOK, inc)
	}
}

type updateIncidentRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	Severity        *string    `json:"severity"`
	Status          *string    `json:"status"`
	AffectedRecords *int       `json:"affected_records"`
	NotifyDeadline  *time.Time `json:"notify_deadline"`
}

// @Summary      Update incident
// @Description  Patch incident fields. Status changes must follow the allowed transition graph.
// @Tags         Incidents
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id           path  string                 true  "Organization ID"
// @Param        incident_id  path  string                 true  "Incident ID"
// @Param        body         body  updateIncidentRequest  true  "Fields to update"
// @Success      200  {object}  models.Incident
// @Failure      409  {object}  map[string]interface{}  "Invalid status transition"
// @Router       /v1/organizations/{id}/incidents/{incident_id} [put]
// UpdateHandler patches an incident, enforcing the status transition graph.
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inc := h.loadOrgIncident(c)
		if inc == nil {
			return
		}

		var req updateIncidentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if req.Severity != nil && !models.ValidSeverity(*req.Severity) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid severity",
			})
			return
		}
		if req.Status != nil && *req.Status != inc.Status {
			if err := inc.ValidateTransition(*req.Status); err != nil {
				c.JSON(http.StatusConflict, gin.H{
					"error": err.Error(),
				})
				return
			}
			inc.Status = *req.Status
		}
		if req.Title != nil {
			inc.Title = *req.Title
		}
		if req.Description != nil {
			inc.Description = *req.Description
		}
		if req.Severity != nil {
			inc.Severity = *req.Severity
		}
		if req.AffectedRecords != nil {
			inc.AffectedRecords = *req.AffectedRecords
		}
		if req.NotifyDeadline != nil {
			inc.NotifyDeadline = req.NotifyDeadline
		}

		if err := h.incidents.Update(c.Request.Context(), inc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update incident",
			})
			return
		}

		c.JSON(http.StatusOK, inc)
	}
}

// @Summary      Incident stats
// @Description  Per-status/severity counts and the number of incidents past their notification deadline.
// @Tags         Incidents
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}  "counts, overdue_notifications"
// @Router       /v1/organizations/{id}/incidents/stats [get]
// StatsHandler reports incident counts for the organization.
func (h *Handlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("id")

		counts, err := h.incidents.CountByStatusAndSeverity(c.Request.Context(), orgID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count incidents",
			})
			return
		}

		overdue, err := h.incidents.CountOverdueNotifications(c.Request.Context(), orgID, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count overdue notifications",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"counts":                counts,
			"overdue_notifications": overdue,
		})
	}
}

// loadOrgIncident fetches the incident and verifies it belongs to the
// organization in the path. Writes the error response itself and returns nil
// when the caller should stop.
func (h *Handlers) loadOrgIncident(c *gin.Context) *models.Incident {
	inc, err := h.incidents.GetByID(c.Request.Context(), c.Param("incident_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load incident",
		})
		return nil
	}
	if inc == nil || inc.OrganizationID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Incident not found",
		})
		return nil
	}
	return inc
}
