// Package models - organization.go defines the Organization record, a tenant
// synchronized from the identity provider with classification and plan fields.
package models

import "time"

// Organization represents an organization record in the record store.
// IdentityID is the stable foreign key into the identity provider. The record
// is referenced (not owned) by many user memberships; a membership may dangle
// if the organization is later deleted, and consumers treat a failed lookup
// as "membership data unavailable" rather than fatal.
type Organization struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Name       string    `json:"name"`
	OrgType    string    `json:"org_type"`
	Industry   string    `json:"industry"`
	Size       string    `json:"size"`
	Plan       string    `json:"plan"`
	PlanStatus string    `json:"plan_status"`
	SeatsTotal int       `json:"seats_total"`
	SeatsUsed  int       `json:"seats_used"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SeatsAvailable returns remaining licensed seats, never negative.
func (o *Organization) SeatsAvailable() int {
	if n := o.SeatsTotal - o.SeatsUsed; n > 0 {
		return n
	}
	return 0
}
