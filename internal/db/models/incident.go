// Package models - incident.go defines the breach incident record and its
// status workflow.
package models

import (
	"fmt"
	"time"
)

// Incident severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Incident workflow statuses.
const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusReported      = "reported"
	StatusClosed        = "closed"
)

// Incident represents a breach incident tracked for an organization.
type Incident struct {
	ID              string     `db:"id" json:"id"`
	OrganizationID  string     `db:"organization_id" json:"organization_id"`
	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description"`
	Severity        string     `db:"severity" json:"severity"`
	Status          string     `db:"status" json:"status"`
	AffectedRecords int        `db:"affected_records" json:"affected_records"`
	ReportedBy      string     `db:"reported_by" json:"reported_by"`
	OccurredAt      *time.Time `db:"occurred_at" json:"occurred_at,omitempty"`
	// NotifyDeadline is the regulator notification deadline (e.g. 72 h after
	// discovery under GDPR Art. 33).
	NotifyDeadline *time.Time `db:"notify_deadline" json:"notify_deadline,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// validTransitions maps each status to the statuses it may move to.
// Reopening a closed incident is allowed; skipping straight from open to
// closed is allowed for false positives.
var validTransitions = map[string][]string{
	StatusOpen:          {StatusInvestigating, StatusClosed},
	StatusInvestigating: {StatusReported, StatusClosed},
	StatusReported:      {StatusClosed},
	StatusClosed:        {StatusOpen},
}

// ValidateTransition reports whether an incident may move from its current
// status to the target status.
func (i *Incident) ValidateTransition(target string) error {
	for _, allowed := range validTransitions[i.Status] {
		if allowed == target {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %q -> %q", i.Status, target)
}

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
