// Package models - user.go defines the User record synchronized from the identity
// provider, along with the preference/security sub-objects stored as JSONB.
package models

import "time"

// User represents a user record in the record store. IdentityID is the stable
// foreign key into the identity provider. Users are deactivated (Active=false),
// never hard-deleted.
type User struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	// Role is the user's global role; empty means "derive from the primary
	// membership" at snapshot-build time.
	Role        string           `json:"role,omitempty"`
	Active      bool             `json:"active"`
	Preferences Preferences      `json:"preferences"`
	Security    SecuritySettings `json:"security"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// FullName returns the display name assembled from the name fields.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Preferences holds free-form user preferences. Fields are pointers where the
// session builder must distinguish "absent" (apply the documented default)
// from an explicit false/empty value.
type Preferences struct {
	NotificationsEnabled *bool  `json:"notifications_enabled,omitempty"`
	Locale               string `json:"locale,omitempty"`
	Timezone             string `json:"timezone,omitempty"`
}

// SecuritySettings holds the security sub-object of a user record.
type SecuritySettings struct {
	TwoFactorEnabled  bool       `json:"two_factor_enabled"`
	LastPasswordReset *time.Time `json:"last_password_reset,omitempty"`
}

// UserWithMemberships is a user joined with their ordered organization
// membership list, the unit the session builder consumes.
type UserWithMemberships struct {
	User
	Memberships []OrganizationMembership `json:"memberships"`
}

// PrimaryMembership returns the membership flagged primary, or nil if none is.
// No membership being primary is a valid state, not an error.
func (u *UserWithMemberships) PrimaryMembership() *OrganizationMembership {
	for i := range u.Memberships {
		if u.Memberships[i].IsPrimary {
			return &u.Memberships[i]
		}
	}
	return nil
}

// EffectiveRole returns the user's global role, falling back to the primary
// membership's role when the global role is unset. An empty return means the
// caller should apply the least-privileged default.
func (u *UserWithMemberships) EffectiveRole() string {
	if u.Role != "" {
		return u.Role
	}
	if m := u.PrimaryMembership(); m != nil {
		return m.Role
	}
	return ""
}
