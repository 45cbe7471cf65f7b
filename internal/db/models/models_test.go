package models

import (
	"testing"
)

func TestFullName(t *testing.T) {
	tests := []struct {
		name  string
		user  User
		want  string
	}{
		{"both names", User{FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{"first only", User{FirstName: "Ada"}, "Ada"},
		{"last only", User{LastName: "Lovelace"}, "Lovelace"},
		{"neither", User{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.FullName(); got != tt.want {
				t.Errorf("FullName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrimaryMembership(t *testing.T) {
	u := &UserWithMemberships{
		Memberships: []OrganizationMembership{
			{OrganizationID: "org-a", IsPrimary: false},
			{OrganizationID: "org-b", IsPrimary: true},
		},
	}
	m := u.PrimaryMembership()
	if m == nil || m.OrganizationID != "org-b" {
		t.Fatalf("PrimaryMembership() = %v, want org-b", m)
	}

	u.Memberships[1].IsPrimary = false
	if u.PrimaryMembership() != nil {
		t.Error("expected nil when no membership is primary")
	}
}

func TestEffectiveRole(t *testing.T) {
	u := &UserWithMemberships{
		User: User{Role: "compliance_officer"},
		Memberships: []OrganizationMembership{
			{OrganizationID: "org-a", Role: "org_admin", IsPrimary: true},
		},
	}
	if got := u.EffectiveRole(); got != "compliance_officer" {
		t.Errorf("EffectiveRole() = %q, want global role", got)
	}

	u.Role = ""
	if got := u.EffectiveRole(); got != "org_admin" {
		t.Errorf("EffectiveRole() = %q, want primary membership role", got)
	}

	u.Memberships[0].IsPrimary = false
	if got := u.EffectiveRole(); got != "" {
		t.Errorf("EffectiveRole() = %q, want empty", got)
	}
}

func TestSeatsAvailable(t *testing.T) {
	org := Organization{SeatsTotal: 10, SeatsUsed: 7}
	if got := org.SeatsAvailable(); got != 3 {
		t.Errorf("SeatsAvailable() = %d, want 3", got)
	}

	org.SeatsUsed = 12
	if got := org.SeatsAvailable(); got != 0 {
		t.Errorf("SeatsAvailable() = %d, want 0 when oversubscribed", got)
	}
}

func TestIncidentTransitions(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{StatusOpen, StatusInvestigating, true},
		{StatusOpen, StatusClosed, true},
		{StatusOpen, StatusReported, false},
		{StatusInvestigating, StatusReported, true},
		{StatusReported, StatusClosed, true},
		{StatusReported, StatusOpen, false},
		{StatusClosed, StatusOpen, true},
		{StatusClosed, StatusReported, false},
	}
	for _, tt := range tests {
		inc := &Incident{Status: tt.from}
		err := inc.ValidateTransition(tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s -> %s: expected error", tt.from, tt.to)
		}
	}
}
