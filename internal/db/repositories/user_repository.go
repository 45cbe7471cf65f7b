// Package repositories implements the data access layer (repository pattern) for
// Compliance Hub. Each repository type encapsulates all database queries for a
// domain entity. Handlers and the session builder never issue SQL directly — all
// record store access goes through this layer, which makes query logic testable
// in isolation and keeps the record-accessor contract in one place: every call
// is a single read or write, with no retries and no transactional guarantees
// across calls. Concurrent writers to the same user's membership list race with
// last-write-wins semantics; that race is documented and accepted, not mitigated.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
)

// UserRepository handles user and membership database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, identity_id, email, first_name, last_name, role, active, preferences, security, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	user := &models.User{}
	var prefs, security []byte
	err := row.Scan(
		&user.ID,
		&user.IdentityID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.Active,
		&prefs,
		&security,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &user.Preferences); err != nil {
			return nil, fmt.Errorf("failed to decode preferences: %w", err)
		}
	}
	if len(security) > 0 {
		if err := json.Unmarshal(security, &user.Security); err != nil {
			return nil, fmt.Errorf("failed to decode security settings: %w", err)
		}
	}
	return user, nil
}

// CreateUser creates a new user record
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	prefs, err := json.Marshal(user.Preferences)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	security, err := json.Marshal(user.Security)
	if err != nil {
		return fmt.Errorf("failed to encode security settings: %w", err)
	}

	query := `
		INSERT INTO users (id, identity_id, email, first_name, last_name, role, active, preferences, security, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		user.ID,
		user.IdentityID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Role,
		user.Active,
		prefs,
		security,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByIdentityID retrieves a user by their identity provider ID
func (r *UserRepository) GetUserByIdentityID(ctx context.Context, identityID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE identity_id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, identityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UserPatch holds the fields a profile update may change. Nil fields are left
// untouched.
type UserPatch struct {
	Email       *string
	FirstName   *string
	LastName    *string
	Role        *string
	Active      *bool
	Preferences *models.Preferences
	Security    *models.SecuritySettings
}

// UpdateUser applies a partial update to a user record. The update is a single
// write; two concurrent patches to the same user are last-write-wins per field.
func (r *UserRepository) UpdateUser(ctx context.Context, userID string, patch UserPatch) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now()}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.FirstName != nil {
		add("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		add("last_name", *patch.LastName)
	}
	if patch.Role != nil {
		add("role", *patch.Role)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if patch.Preferences != nil {
		prefs, err := json.Marshal(patch.Preferences)
		if err != nil {
			return fmt.Errorf("failed to encode preferences: %w", err)
		}
		add("preferences", prefs)
	}
	if patch.Security != nil {
		security, err := json.Marshal(patch.Security)
		if err != nil {
			return fmt.Errorf("failed to encode security settings: %w", err)
		}
		add("security", security)
	}

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", joinSets(sets), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// ListUsers returns a page of users with the total count
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// ---------------------------------------------------------------------------
// Memberships
// ---------------------------------------------------------------------------

const membershipColumns = `user_id, organization_id, role, permissions, is_primary, position, joined_at, updated_at`

func scanMembership(row interface{ Scan(...any) error }) (*models.OrganizationMembership, error) {
	m := &models.OrganizationMembership{}
	var perms []byte
	err := row.Scan(
		&m.UserID,
		&m.OrganizationID,
		&m.Role,
		&perms,
		&m.IsPrimary,
		&m.Position,
		&m.JoinedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &m.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
	}
	return m, nil
}

// GetMemberships returns a user's memberships in list order
func (r *UserRepository) GetMemberships(ctx context.Context, userID string) ([]models.OrganizationMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM organization_memberships WHERE user_id = $1 ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []models.OrganizationMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}
	return memberships, rows.Err()
}

// GetUserWithMemberships loads a user and their ordered membership list.
// Returns (nil, nil) when the user does not exist.
func (r *UserRepository) GetUserWithMemberships(ctx context.Context, userID string) (*models.UserWithMemberships, error) {
	user, err := r.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}

	memberships, err := r.GetMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &models.UserWithMemberships{User: *user, Memberships: memberships}, nil
}

// AddMembership appends a membership to the end of the user's list. The first
// membership a user gains becomes primary automatically.
func (r *UserRepository) AddMembership(ctx context.Context, m *models.OrganizationMembership) error {
	existing, err := r.GetMemberships(ctx, m.UserID)
	if err != nil {
		return err
	}
	m.Position = len(existing)
	if len(existing) == 0 {
		m.IsPrimary = true
	}
	m.JoinedAt = time.Now()
	m.UpdatedAt = m.JoinedAt

	perms, err := json.Marshal(m.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `
		INSERT INTO organization_memberships (user_id, organization_id, role, permissions, is_primary, position, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		m.UserID, m.OrganizationID, m.Role, perms, m.IsPrimary, m.Position, m.JoinedAt, m.UpdatedAt)
	return err
}

// UpdateMembershipRole changes the role on an existing membership
func (r *UserRepository) UpdateMembershipRole(ctx context.Context, userID, orgID, role string) error {
	query := `UPDATE organization_memberships SET role = $1, updated_at = $2 WHERE user_id = $3 AND organization_id = $4`
	result, err := r.db.ExecContext(ctx, query, role, time.Now(), userID, orgID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("membership %s/%s not found", userID, orgID)
	}
	return nil
}

// RemoveMembership deletes a membership. If the removed membership was primary
// and other memberships remain, the first remaining membership (by position)
// is promoted to primary. The read-promote-write sequence is not transactional
// across concurrent edits to the same user; the race is accepted (last write
// wins) because the session snapshot derived from it is rebuildable.
func (r *UserRepository) RemoveMembership(ctx context.Context, userID, orgID string) error {
	var wasPrimary bool
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM organization_memberships WHERE user_id = $1 AND organization_id = $2 RETURNING is_primary`,
		userID, orgID).Scan(&wasPrimary)
	if err == sql.ErrNoRows {
		return fmt.Errorf("membership %s/%s not found", userID, orgID)
	}
	if err != nil {
		return err
	}

	if !wasPrimary {
		return nil
	}

	// Promote the first remaining membership, if any.
	query := `
		UPDATE organization_memberships SET is_primary = TRUE, updated_at = $1
		WHERE user_id = $2 AND organization_id = (
			SELECT organization_id FROM organization_memberships
			WHERE user_id = $2 ORDER BY position LIMIT 1
		)
	`
	_, err = r.db.ExecContext(ctx, query, time.Now(), userID)
	return err
}

// SetPrimaryMembership flags orgID as the user's primary membership and clears
// the flag on every other membership. Fails if the user is not a member.
func (r *UserRepository) SetPrimaryMembership(ctx context.Context, userID, orgID string) error {
	var isMember bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM organization_memberships WHERE user_id = $1 AND organization_id = $2)`,
		userID, orgID).Scan(&isMember)
	if err != nil {
		return err
	}
	if !isMember {
		return fmt.Errorf("user %s is not a member of organization %s", userID, orgID)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE organization_memberships SET is_primary = (organization_id = $1), updated_at = $2 WHERE user_id = $3`,
		orgID, time.Now(), userID)
	return err
}
