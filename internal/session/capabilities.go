// Package session implements session materialization: combining the identity
// provider's view of a user with the record store's organization data into a
// cached, fully rebuildable session snapshot.
//
// capabilities.go defines the static role-to-capability table. Capabilities
// are not persisted per user; they are looked up by role name at snapshot
// build time, so changing this table takes effect on the next rebuild.
package session

// Role names known to the capability table.
const (
	RoleSuperAdmin        = "super_admin"
	RoleOrgAdmin          = "org_admin"
	RoleComplianceOfficer = "compliance_officer"
	RoleOrgMember         = "org_member"
	RoleOrgViewer         = "org_viewer"
)

// CapabilitySet is a fixed record of boolean permission flags for one role.
type CapabilitySet struct {
	CanManageOrganization bool `json:"can_manage_organization"`
	CanManageMembers      bool `json:"can_manage_members"`
	CanManageIncidents    bool `json:"can_manage_incidents"`
	CanViewIncidents      bool `json:"can_view_incidents"`
	CanViewAnalytics      bool `json:"can_view_analytics"`
	CanExportReports      bool `json:"can_export_reports"`
	CanManageBilling      bool `json:"can_manage_billing"`
}

var roleCapabilities = map[string]CapabilitySet{
	RoleSuperAdmin: {
		CanManageOrganization: true,
		CanManageMembers:      true,
		CanManageIncidents:    true,
		CanViewIncidents:      true,
		CanViewAnalytics:      true,
		CanExportReports:      true,
		CanManageBilling:      true,
	},
	RoleOrgAdmin: {
		CanManageOrganization: true,
		CanManageMembers:      true,
		CanManageIncidents:    true,
		CanViewIncidents:      true,
		CanViewAnalytics:      true,
		CanExportReports:      true,
		CanManageBilling:      true,
	},
	RoleComplianceOfficer: {
		CanManageIncidents: true,
		CanViewIncidents:   true,
		CanViewAnalytics:   true,
		CanExportReports:   true,
	},
	RoleOrgMember: {
		CanManageIncidents: true,
		CanViewIncidents:   true,
	},
	RoleOrgViewer: {
		CanViewIncidents: true,
	},
}

// CapabilitiesFor returns the capability set for a role name. The function is
// total: unknown or empty role names map to the least-privileged set
// (org_viewer) rather than failing, so a bad role string in stored data can
// never grant more than read access.
func CapabilitiesFor(role string) CapabilitySet {
	if caps, ok := roleCapabilities[role]; ok {
		return caps
	}
	return roleCapabilities[RoleOrgViewer]
}

// KnownRole reports whether the role name appears in the capability table.
// Write paths validate roles with this; read paths use the CapabilitiesFor
// fallback instead so stored data with a stale role name still resolves.
func KnownRole(role string) bool {
	_, ok := roleCapabilities[role]
	return ok
}
