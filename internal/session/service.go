// service.go orchestrates the login-time session flow: sync the user from
// the identity provider on first sight, decide via the cache gate whether the
// cached snapshot is still servable, and rebuild-and-push when it is not.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/identity"
	"github.com/compliance-hub/compliance-hub/internal/telemetry"
)

// ErrUserNotFound is returned when neither the record store nor the identity
// provider knows the user. Unlike a dangling organization reference, a
// missing user is fatal: there is nothing to build a session for.
var ErrUserNotFound = errors.New("session: user not found")

// userRecords is the slice of the user repository the service needs.
type userRecords interface {
	GetUserByIdentityID(ctx context.Context, identityID string) (*models.User, error)
	GetUserWithMemberships(ctx context.Context, userID string) (*models.UserWithMemberships, error)
	CreateUser(ctx context.Context, user *models.User) error
	AddMembership(ctx context.Context, m *models.OrganizationMembership) error
	SetPrimaryMembership(ctx context.Context, userID, orgID string) error
}

// orgRecords is the slice of the organization repository the service needs.
type orgRecords interface {
	GetByIdentityID(ctx context.Context, identityID string) (*models.Organization, error)
	Create(ctx context.Context, org *models.Organization) error
}

// provider is the slice of the identity client the service needs for
// first-login synchronization.
type provider interface {
	GetUser(ctx context.Context, userID string) (*identity.User, error)
	GetOrganization(ctx context.Context, orgID string) (*identity.Organization, error)
	ListMemberships(ctx context.Context, userID string) ([]identity.Membership, error)
}

// Service ties the builder, gate and bridge together behind the operations
// the API layer calls.
type Service struct {
	users    userRecords
	orgs     orgRecords
	provider provider
	builder  *Builder
	gate     *Gate
	bridge   *Bridge
}

// NewService creates the session service.
func NewService(users userRecords, orgs orgRecords, p provider, builder *Builder, gate *Gate, bridge *Bridge) *Service {
	return &Service{
		users:    users,
		orgs:     orgs,
		provider: p,
		builder:  builder,
		gate:     gate,
		bridge:   bridge,
	}
}

// ProcessLogin returns the session snapshot for the user with the given
// identity-provider ID, creating the user record on first login and
// rebuilding the snapshot when the cache gate says the cached one is too old
// (or forceRefresh bypasses the gate entirely).
//
// Two logins racing on the same stale snapshot both rebuild and the last
// cache push wins; the snapshot carries no authoritative state, so the only
// cost is the duplicate rebuild.
func (s *Service) ProcessLogin(ctx context.Context, identityID string, forceRefresh bool) (*Snapshot, PushResult, error) {
	user, err := s.users.GetUserByIdentityID(ctx, identityID)
	if err != nil {
		return nil, PushResult{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		user, err = s.syncUserFromProvider(ctx, identityID)
		if err != nil {
			return nil, PushResult{}, err
		}
	}

	full, err := s.users.GetUserWithMemberships(ctx, user.ID)
	if err != nil {
		return nil, PushResult{}, fmt.Errorf("failed to load user memberships: %w", err)
	}
	if full == nil {
		return nil, PushResult{}, ErrUserNotFound
	}

	cached, err := s.bridge.Pull(ctx, identityID)
	if err != nil {
		return nil, PushResult{}, err
	}

	switch {
	case forceRefresh:
		telemetry.SessionCacheResults.WithLabelValues("forced").Inc()
	case cached == nil:
		telemetry.SessionCacheResults.WithLabelValues("miss").Inc()
	case s.gate.IsStale(cached):
		telemetry.SessionCacheResults.WithLabelValues("stale").Inc()
	default:
		telemetry.SessionCacheResults.WithLabelValues("hit").Inc()
		return cached, PushResult{}, nil
	}

	return s.rebuild(ctx, identityID, full, cached)
}

// InvalidateSessionCache forces the user's cached snapshot stale so the next
// login rebuilds it. A user with no cached snapshot is a no-op: absent is
// already the strongest form of stale.
func (s *Service) InvalidateSessionCache(ctx context.Context, identityID string) error {
	cached, err := s.bridge.Pull(ctx, identityID)
	if err != nil {
		return err
	}
	if cached == nil {
		return nil
	}

	s.gate.Invalidate(cached)
	result, err := s.bridge.Push(ctx, identityID, cached)
	if err != nil {
		return err
	}
	if result.Skipped {
		return fmt.Errorf("failed to invalidate session cache: %s", result.Reason)
	}
	return nil
}

// SwitchPrimaryOrganization moves the user's primary flag to the given
// organization and rebuilds the snapshot so the richer primary view follows
// immediately instead of waiting out the staleness window.
func (s *Service) SwitchPrimaryOrganization(ctx context.Context, identityID, orgID string) (*Snapshot, PushResult, error) {
	user, err := s.users.GetUserByIdentityID(ctx, identityID)
	if err != nil {
		return nil, PushResult{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, PushResult{}, ErrUserNotFound
	}

	if err := s.users.SetPrimaryMembership(ctx, user.ID, orgID); err != nil {
		return nil, PushResult{}, err
	}

	full, err := s.users.GetUserWithMemberships(ctx, user.ID)
	if err != nil {
		return nil, PushResult{}, fmt.Errorf("failed to load user memberships: %w", err)
	}

	cached, err := s.bridge.Pull(ctx, identityID)
	if err != nil {
		return nil, PushResult{}, err
	}
	telemetry.SessionCacheResults.WithLabelValues("forced").Inc()
	return s.rebuild(ctx, identityID, full, cached)
}

// rebuild materializes a fresh snapshot and pushes it, carrying the previous
// version number forward.
func (s *Service) rebuild(ctx context.Context, identityID string, user *models.UserWithMemberships, prev *Snapshot) (*Snapshot, PushResult, error) {
	prevVersion := 0
	if prev != nil {
		prevVersion = prev.Cache.Version
	}

	snapshot, err := s.builder.Build(ctx, user, prevVersion)
	if err != nil {
		return nil, PushResult{}, err
	}

	result, err := s.bridge.Push(ctx, identityID, snapshot)
	if err != nil {
		return nil, PushResult{}, err
	}
	if result.Skipped {
		slog.Info("serving in-memory snapshot, cache push skipped",
			"identity_id", identityID, "reason", result.Reason)
	}
	return snapshot, result, nil
}

// syncUserFromProvider creates the local user record (and any organization
// records not yet mirrored) from the identity provider on first login. The
// provider not knowing the user is fatal; a membership whose organization
// cannot be fetched is skipped, matching how the builder treats dangling
// references.
func (s *Service) syncUserFromProvider(ctx context.Context, identityID string) (*models.User, error) {
	pu, err := s.provider.GetUser(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to fetch user from identity provider: %w", err)
	}

	user := &models.User{
		ID:         uuid.New().String(),
		IdentityID: pu.ID,
		Email:      pu.Email,
		FirstName:  pu.FirstName,
		LastName:   pu.LastName,
		Active:     !pu.Banned,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user record: %w", err)
	}

	memberships, err := s.provider.ListMemberships(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider memberships: %w", err)
	}

	for _, pm := range memberships {
		org, err := s.resolveOrganization(ctx, pm.OrganizationID)
		if err != nil {
			slog.Warn("skipping membership with unresolvable organization",
				"identity_id", identityID, "provider_org_id", pm.OrganizationID, "error", err)
			continue
		}
		m := &models.OrganizationMembership{
			UserID:         user.ID,
			OrganizationID: org.ID,
			Role:           pm.Role,
		}
		if err := s.users.AddMembership(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to add membership: %w", err)
		}
	}

	slog.Info("synchronized user from identity provider",
		"user_id", user.ID, "identity_id", identityID, "memberships", len(memberships))
	return user, nil
}

// resolveOrganization maps a provider organization ID to the local record,
// mirroring the organization into the record store if it is not there yet.
func (s *Service) resolveOrganization(ctx context.Context, providerOrgID string) (*models.Organization, error) {
	org, err := s.orgs.GetByIdentityID(ctx, providerOrgID)
	if err != nil {
		return nil, err
	}
	if org != nil {
		return org, nil
	}

	po, err := s.provider.GetOrganization(ctx, providerOrgID)
	if err != nil {
		return nil, err
	}

	org = &models.Organization{
		ID:         uuid.New().String(),
		IdentityID: po.ID,
		Name:       po.Name,
		Plan:       "free",
		PlanStatus: "active",
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}
