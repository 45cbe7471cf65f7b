// snapshot.go defines the session snapshot — the derived, non-authoritative
// projection this whole package exists to produce — and the versioned schema
// used when reading snapshots back from the metadata cache.
package session

import (
	"encoding/json"
	"time"
)

// SchemaVersion tags every snapshot written to the cache. Bump it when the
// snapshot shape changes incompatibly; DecodeSnapshot treats snapshots with a
// newer schema than it understands as absent, which forces a rebuild instead
// of misreading them. Losing a snapshot is never data loss — it is entirely
// reconstructible from the record store and the capability table.
const SchemaVersion = 1

// Default values applied to absent preference fields at build time.
const (
	DefaultLocale   = "en-US"
	DefaultTimezone = "UTC"
)

// UserSummary is the snapshot's view of the user.
type UserSummary struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Active     bool   `json:"active"`
}

// OrganizationEntry is one resolved membership in the snapshot, in membership
// list order.
type OrganizationEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	Plan        string   `json:"plan"`
	IsPrimary   bool     `json:"is_primary"`
}

// PrimaryOrganization is the richer view of the primary membership's
// organization, carrying the plan/status/classification fields the UI needs
// for the active organizational context.
type PrimaryOrganization struct {
	OrganizationEntry
	PlanStatus string `json:"plan_status"`
	OrgType    string `json:"org_type"`
	Industry   string `json:"industry"`
	Size       string `json:"size"`
	SeatsTotal int    `json:"seats_total"`
	SeatsUsed  int    `json:"seats_used"`
}

// PreferencesView is the defaulted preference sub-object: every field has a
// concrete value even when the user record left it unset.
type PreferencesView struct {
	NotificationsEnabled bool   `json:"notifications_enabled"`
	Locale               string `json:"locale"`
	Timezone             string `json:"timezone"`
}

// SecurityView is the snapshot's security sub-object.
type SecurityView struct {
	TwoFactorEnabled bool `json:"two_factor_enabled"`
}

// CacheDescriptor records when the snapshot was materialized and how many
// times it has been rebuilt.
type CacheDescriptor struct {
	LastUpdated time.Time `json:"last_updated"`
	Version     int       `json:"version"`
}

// Snapshot is the materialized session: who the user is, what organizations
// they belong to, and what they can do. It holds no information that cannot
// be regenerated from the record store plus the capability table.
type Snapshot struct {
	Schema        int                  `json:"schema"`
	User          UserSummary          `json:"user"`
	Organizations []OrganizationEntry  `json:"organizations"`
	Primary       *PrimaryOrganization `json:"primary_organization,omitempty"`
	Capabilities  CapabilitySet        `json:"capabilities"`
	Preferences   PreferencesView      `json:"preferences"`
	Security      SecurityView         `json:"security"`
	Cache         CacheDescriptor      `json:"cache"`
}

// DecodeSnapshot parses a snapshot read back from the metadata cache.
//
// Returns (nil, nil) — "treat as absent" — for an empty payload or a schema
// newer than this binary understands. Snapshots with schema 0 predate the
// schema tag; they are accepted and run through defaulting so a deploy that
// introduced the tag does not invalidate every cached session at once.
func DecodeSnapshot(raw json.RawMessage) (*Snapshot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}

	if snapshot.Schema > SchemaVersion {
		return nil, nil
	}
	if snapshot.Schema == 0 {
		migrateLegacy(&snapshot)
	}
	return &snapshot, nil
}

// migrateLegacy fills defaults for fields that pre-schema snapshots may lack.
func migrateLegacy(s *Snapshot) {
	s.Schema = SchemaVersion
	if s.Preferences.Locale == "" {
		s.Preferences.Locale = DefaultLocale
	}
	if s.Preferences.Timezone == "" {
		s.Preferences.Timezone = DefaultTimezone
	}
	if s.Cache.Version == 0 {
		s.Cache.Version = 1
	}
}

// Encode serializes the snapshot for the metadata cache.
func (s *Snapshot) Encode() (json.RawMessage, error) {
	return json.Marshal(s)
}
