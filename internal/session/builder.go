// builder.go assembles session snapshots from the record store and the
// capability table.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/telemetry"
)

// OrganizationResolver is the slice of the organization repository the
// builder needs: one batched lookup so resolving N memberships costs one
// round-trip, not N.
type OrganizationResolver interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Organization, error)
}

// Builder materializes snapshots for users.
type Builder struct {
	orgs OrganizationResolver
	now  func() time.Time
}

// NewBuilder creates a builder. now may be nil, which selects time.Now.
func NewBuilder(orgs OrganizationResolver, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{orgs: orgs, now: now}
}

// Build produces a snapshot for the user. prevVersion is the version of the
// snapshot being replaced, or 0 on first build.
//
// Memberships whose organization does not resolve are dropped from the
// output — a dangling reference means "membership data unavailable", never a
// failed build. No membership being primary is likewise a valid state: the
// primary organization is simply absent. The only fatal condition at this
// layer is the record store failing outright.
func (b *Builder) Build(ctx context.Context, user *models.UserWithMemberships, prevVersion int) (*Snapshot, error) {
	started := b.now()

	ids := make([]string, 0, len(user.Memberships))
	for _, m := range user.Memberships {
		ids = append(ids, m.OrganizationID)
	}
	orgs, err := b.orgs.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve organizations: %w", err)
	}

	snapshot := &Snapshot{
		Schema: SchemaVersion,
		User: UserSummary{
			ID:         user.ID,
			IdentityID: user.IdentityID,
			Email:      user.Email,
			Name:       user.FullName(),
			Role:       user.Role,
			Active:     user.Active,
		},
	}

	for _, m := range user.Memberships {
		org, ok := orgs[m.OrganizationID]
		if !ok {
			telemetry.SessionMembershipsDroppedTotal.Inc()
			slog.Warn("dropping membership with unresolvable organization",
				"user_id", user.ID, "organization_id", m.OrganizationID)
			continue
		}

		entry := OrganizationEntry{
			ID:          org.ID,
			Name:        org.Name,
			Role:        m.Role,
			Permissions: m.Permissions,
			Plan:        org.Plan,
			IsPrimary:   m.IsPrimary,
		}
		snapshot.Organizations = append(snapshot.Organizations, entry)

		if m.IsPrimary {
			snapshot.Primary = &PrimaryOrganization{
				OrganizationEntry: entry,
				PlanStatus:        org.PlanStatus,
				OrgType:           org.OrgType,
				Industry:          org.Industry,
				Size:              org.Size,
				SeatsTotal:        org.SeatsTotal,
				SeatsUsed:         org.SeatsUsed,
			}
		}
	}

	snapshot.Capabilities = CapabilitiesFor(user.EffectiveRole())
	snapshot.Preferences = defaultPreferences(user.Preferences)
	snapshot.Security = SecurityView{TwoFactorEnabled: user.Security.TwoFactorEnabled}
	snapshot.Cache = CacheDescriptor{
		LastUpdated: b.now(),
		Version:     prevVersion + 1,
	}

	telemetry.SessionRebuildsTotal.Inc()
	telemetry.SessionBuildDuration.Observe(b.now().Sub(started).Seconds())

	return snapshot, nil
}

// defaultPreferences applies the documented defaults for absent preference
// fields: notifications on, locale en-US, timezone UTC.
func defaultPreferences(p models.Preferences) PreferencesView {
	view := PreferencesView{
		NotificationsEnabled: true,
		Locale:               p.Locale,
		Timezone:             p.Timezone,
	}
	if p.NotificationsEnabled != nil {
		view.NotificationsEnabled = *p.NotificationsEnabled
	}
	if view.Locale == "" {
		view.Locale = DefaultLocale
	}
	if view.Timezone == "" {
		view.Timezone = DefaultTimezone
	}
	return view
}
