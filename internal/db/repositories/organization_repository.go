// organization_repository.go implements OrganizationRepository, providing database
// queries for organization CRUD and the batched lookup the session builder uses
// to resolve a user's memberships in one round-trip.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
)

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db *sql.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

const orgColumns = `id, identity_id, name, org_type, industry, size, plan, plan_status, seats_total, seats_used, created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(
		&org.ID,
		&org.IdentityID,
		&org.Name,
		&org.OrgType,
		&org.Industry,
		&org.Size,
		&org.Plan,
		&org.PlanStatus,
		&org.SeatsTotal,
		&org.SeatsUsed,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetByID retrieves an organization by ID. Returns (nil, nil) when absent.
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`

	org, err := scanOrganization(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByIdentityID retrieves an organization by its identity provider ID
func (r *OrganizationRepository) GetByIdentityID(ctx context.Context, identityID string) (*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE identity_id = $1`

	org, err := scanOrganization(r.db.QueryRowContext(ctx, query, identityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByIDs retrieves multiple organizations in a single query, keyed by ID.
// IDs with no matching record are simply absent from the result map; callers
// treat those as dangling membership references, not errors.
func (r *OrganizationRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Organization, error) {
	result := make(map[string]*models.Organization, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get organizations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		result[org.ID] = org
	}
	return result, rows.Err()
}

// Create inserts a new organization record
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	org.CreatedAt = time.Now()
	org.UpdatedAt = time.Now()

	query := `
		INSERT INTO organizations (id, identity_id, name, org_type, industry, size, plan, plan_status, seats_total, seats_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		org.ID, org.IdentityID, org.Name, org.OrgType, org.Industry, org.Size,
		org.Plan, org.PlanStatus, org.SeatsTotal, org.SeatsUsed, org.CreatedAt, org.UpdatedAt)
	return err
}

// Update overwrites the mutable fields of an organization record
func (r *OrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now()

	query := `
		UPDATE organizations
		SET name = $2, org_type = $3, industry = $4, size = $5, plan = $6, plan_status = $7,
		    seats_total = $8, seats_used = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		org.ID, org.Name, org.OrgType, org.Industry, org.Size,
		org.Plan, org.PlanStatus, org.SeatsTotal, org.SeatsUsed, org.UpdatedAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("organization %s not found", org.ID)
	}
	return nil
}

// Delete removes an organization record. Memberships referencing it are left
// in place and become dangling references; the session builder drops them at
// snapshot-build time.
func (r *OrganizationRepository) Delete(ctx context.Context, orgID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("organization %s not found", orgID)
	}
	return nil
}

// List returns a page of organizations with the total count
func (r *OrganizationRepository) List(ctx context.Context, limit, offset int) ([]*models.Organization, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orgColumns + ` FROM organizations ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, 0, err
		}
		orgs = append(orgs, org)
	}
	return orgs, total, rows.Err()
}

// ListMembers returns every membership of an organization joined with user
// display fields, for the member administration endpoints.
func (r *OrganizationRepository) ListMembers(ctx context.Context, orgID string) ([]*models.MembershipWithUser, error) {
	query := `
		SELECT m.user_id, m.organization_id, m.role, m.is_primary, m.position, m.joined_at, m.updated_at,
		       u.email, u.first_name, u.last_name
		FROM organization_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.joined_at
	`
	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.MembershipWithUser
	for rows.Next() {
		m := &models.MembershipWithUser{}
		var first, last string
		err := rows.Scan(
			&m.UserID, &m.OrganizationID, &m.Role, &m.IsPrimary, &m.Position,
			&m.JoinedAt, &m.UpdatedAt, &m.UserEmail, &first, &last,
		)
		if err != nil {
			return nil, err
		}
		m.UserName = (&models.User{FirstName: first, LastName: last}).FullName()
		members = append(members, m)
	}
	return members, rows.Err()
}
