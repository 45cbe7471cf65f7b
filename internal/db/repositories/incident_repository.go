// incident_repository.go implements IncidentRepository over sqlx, providing
// queries for the breach incident register and the per-organization stats
// used by the reporting endpoints.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
)

// IncidentRepository handles database operations for breach incidents
type IncidentRepository struct {
	db *sqlx.DB
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create inserts a new incident
func (r *IncidentRepository) Create(ctx context.Context, inc *models.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.Severity == "" {
		inc.Severity = models.SeverityLow
	}
	if inc.Status == "" {
		inc.Status = models.StatusOpen
	}
	inc.CreatedAt = time.Now()
	inc.UpdatedAt = inc.CreatedAt

	query := `
		INSERT INTO incidents (
			id, organization_id, title, description, severity, status,
			affected_records, reported_by, occurred_at, notify_deadline, created_at, updated_at
		) VALUES (
			:id, :organization_id, :title, :description, :severity, :status,
			:affected_records, :reported_by, :occurred_at, :notify_deadline, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, inc)
	return err
}

// GetByID retrieves an incident by ID. Returns (nil, nil) when absent.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	var inc models.Incident
	err := r.db.GetContext(ctx, &inc, `SELECT * FROM incidents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// ListByOrganization returns an organization's incidents, optionally filtered
// by status, newest first.
func (r *IncidentRepository) ListByOrganization(ctx context.Context, orgID, status string, limit, offset int) ([]*models.Incident, error) {
	var incidents []*models.Incident
	var err error

	if status == "" {
		err = r.db.SelectContext(ctx, &incidents,
			`SELECT * FROM incidents WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			orgID, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &incidents,
			`SELECT * FROM incidents WHERE organization_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			orgID, status, limit, offset)
	}
	return incidents, err
}

// Update overwrites the mutable fields of an incident
func (r *IncidentRepository) Update(ctx context.Context, inc *models.Incident) error {
	inc.UpdatedAt = time.Now()

	query := `
		UPDATE incidents
		SET title = :title, description = :description, severity = :severity, status = :status,
		    affected_records = :affected_records, occurred_at = :occurred_at,
		    notify_deadline = :notify_deadline, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, inc)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("incident %s not found", inc.ID)
	}
	return nil
}

// StatusCount is one row of the per-organization incident breakdown.
type StatusCount struct {
	Status   string `db:"status" json:"status"`
	Severity string `db:"severity" json:"severity"`
	Count    int    `db:"count" json:"count"`
}

// CountByStatusAndSeverity returns the incident breakdown for one organization,
// used by the reporting endpoint.
func (r *IncidentRepository) CountByStatusAndSeverity(ctx context.Context, orgID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT status, severity, COUNT(*) AS count
		FROM incidents
		WHERE organization_id = $1
		GROUP BY status, severity
		ORDER BY status, severity
	`, orgID)
	return counts, err
}

// CountOverdueNotifications returns incidents whose regulator notification
// deadline has passed without the incident reaching the reported state.
func (r *IncidentRepository) CountOverdueNotifications(ctx context.Context, orgID string, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM incidents
		WHERE organization_id = $1
		  AND notify_deadline IS NOT NULL
		  AND notify_deadline < $2
		  AND status IN ($3, $4)
	`, orgID, now, models.StatusOpen, models.StatusInvestigating)
	return count, err
}
