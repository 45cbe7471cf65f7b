// Package models - membership.go defines the user-to-organization membership
// value object owned by the user record.
package models

import "time"

// OrganizationMembership represents a user's membership in an organization.
// Position preserves the order of the user's membership list. Invariant: at
// most one membership per user has IsPrimary=true; when the primary membership
// is removed, the first remaining membership is promoted (handled in the
// repository layer).
type OrganizationMembership struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	Role           string   `json:"role"`
	Permissions    []string `json:"permissions"`
	IsPrimary      bool     `json:"is_primary"`
	Position       int      `json:"position"`
	JoinedAt       time.Time `json:"joined_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MembershipWithUser joins a membership with user display fields for the
// member administration endpoints.
type MembershipWithUser struct {
	OrganizationMembership
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}
