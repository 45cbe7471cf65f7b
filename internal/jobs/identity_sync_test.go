package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compliance-hub/compliance-hub/internal/config"
	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/identity"
)

type fakeDirectory struct {
	orgs      []identity.Organization
	users     []identity.User
	orgsErr   error
	usersErr  error
	orgCalls  atomic.Int32
	userCalls atomic.Int32
}

func (f *fakeDirectory) ListOrganizations(_ context.Context, limit, offset int) ([]identity.Organization, error) {
	f.orgCalls.Add(1)
	if f.orgsErr != nil {
		return nil, f.orgsErr
	}
	return pageOf(f.orgs, limit, offset), nil
}

func (f *fakeDirectory) ListUsers(_ context.Context, limit, offset int) ([]identity.User, error) {
	f.userCalls.Add(1)
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return pageOf(f.users, limit, offset), nil
}

func pageOf[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type fakeSyncUsers struct {
	byIdentityID map[string]*models.User
	patches      map[string]repositories.UserPatch
}

func (f *fakeSyncUsers) GetUserByIdentityID(_ context.Context, identityID string) (*models.User, error) {
	return f.byIdentityID[identityID], nil
}

func (f *fakeSyncUsers) UpdateUser(_ context.Context, userID string, patch repositories.UserPatch) error {
	if f.patches == nil {
		f.patches = map[string]repositories.UserPatch{}
	}
	f.patches[userID] = patch
	return nil
}

type fakeSyncOrgs struct {
	byIdentityID map[string]*models.Organization
	created      []*models.Organization
	updated      []*models.Organization
}

func (f *fakeSyncOrgs) GetByIdentityID(_ context.Context, identityID string) (*models.Organization, error) {
	return f.byIdentityID[identityID], nil
}

func (f *fakeSyncOrgs) Create(_ context.Context, org *models.Organization) error {
	f.created = append(f.created, org)
	f.byIdentityID[org.IdentityID] = org
	return nil
}

func (f *fakeSyncOrgs) Update(_ context.Context, org *models.Organization) error {
	f.updated = append(f.updated, org)
	return nil
}

func newSyncJob(directory *fakeDirectory, users *fakeSyncUsers, orgs *fakeSyncOrgs) *IdentitySyncJob {
	cfg := &config.SyncConfig{Enabled: true, Interval: time.Hour, PageSize: 2}
	return NewIdentitySyncJob(directory, users, orgs, cfg)
}

func TestSyncOrganizationsCreatesAndUpdates(t *testing.T) {
	directory := &fakeDirectory{orgs: []identity.Organization{
		{ID: "idp_org_a", Name: "Org A"},
		{ID: "idp_org_b", Name: "Org B Renamed"},
		{ID: "idp_org_c", Name: "Org C"},
	}}
	orgs := &fakeSyncOrgs{byIdentityID: map[string]*models.Organization{
		"idp_org_b": {ID: "org-b", IdentityID: "idp_org_b", Name: "Org B", Plan: "enterprise"},
	}}
	job := newSyncJob(directory, &fakeSyncUsers{}, orgs)

	count, err := job.syncOrganizations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 reconciled records, got %d", count)
	}

	if len(orgs.created) != 2 {
		t.Fatalf("expected 2 created organizations, got %d", len(orgs.created))
	}
	if orgs.created[0].Plan != "free" || orgs.created[0].PlanStatus != "active" {
		t.Errorf("new organizations start on the free plan, got %+v", orgs.created[0])
	}

	if len(orgs.updated) != 1 {
		t.Fatalf("expected 1 updated organization, got %d", len(orgs.updated))
	}
	if orgs.updated[0].Name != "Org B Renamed" {
		t.Errorf("expected the rename applied, got %q", orgs.updated[0].Name)
	}
	if orgs.updated[0].Plan != "enterprise" {
		t.Errorf("plan fields are record-store owned and must survive sync, got %q", orgs.updated[0].Plan)
	}

	// Page size 2 over 3 items: full page then short page.
	if directory.orgCalls.Load() != 2 {
		t.Errorf("expected 2 paged calls, got %d", directory.orgCalls.Load())
	}
}

func TestSyncUsersRefreshesKnownUsersOnly(t *testing.T) {
	directory := &fakeDirectory{users: []identity.User{
		{ID: "idp_u1", Email: "new@example.com", FirstName: "Dana", LastName: "Reyes"},
		{ID: "idp_banned", Email: "b@example.com", Banned: true},
		{ID: "idp_never_logged_in", Email: "n@example.com"},
	}}
	users := &fakeSyncUsers{byIdentityID: map[string]*models.User{
		"idp_u1":     {ID: "u1", IdentityID: "idp_u1", Email: "old@example.com", FirstName: "Dana", LastName: "Reyes", Active: true},
		"idp_banned": {ID: "u2", IdentityID: "idp_banned", Email: "b@example.com", Active: true},
	}}
	job := newSyncJob(directory, users, &fakeSyncOrgs{byIdentityID: map[string]*models.Organization{}})

	count, err := job.syncUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 reconciled users, got %d", count)
	}

	patch, ok := users.patches["u1"]
	if !ok {
		t.Fatal("expected a patch for u1")
	}
	if patch.Email == nil || *patch.Email != "new@example.com" {
		t.Errorf("expected email patched, got %+v", patch)
	}
	if patch.FirstName != nil {
		t.Error("unchanged fields must not appear in the patch")
	}

	banned, ok := users.patches["u2"]
	if !ok {
		t.Fatal("expected a patch for the banned user")
	}
	if banned.Active == nil || *banned.Active {
		t.Errorf("expected the banned user deactivated, got %+v", banned)
	}

	if _, ok := users.patches["idp_never_logged_in"]; ok {
		t.Error("users without a record must not be created by sync")
	}
}

func TestSyncUsersNoChangesWritesNothing(t *testing.T) {
	directory := &fakeDirectory{users: []identity.User{
		{ID: "idp_u1", Email: "same@example.com", FirstName: "Dana"},
	}}
	users := &fakeSyncUsers{byIdentityID: map[string]*models.User{
		"idp_u1": {ID: "u1", IdentityID: "idp_u1", Email: "same@example.com", FirstName: "Dana", Active: true},
	}}
	job := newSyncJob(directory, users, &fakeSyncOrgs{byIdentityID: map[string]*models.Organization{}})

	count, err := job.syncUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no writes for unchanged users, got %d", count)
	}
	if len(users.patches) != 0 {
		t.Errorf("expected no patches, got %v", users.patches)
	}
}

func TestRunOnceRateLimitedAborts(t *testing.T) {
	directory := &fakeDirectory{orgsErr: identity.ErrRateLimited}
	users := &fakeSyncUsers{byIdentityID: map[string]*models.User{}}
	job := newSyncJob(directory, users, &fakeSyncOrgs{byIdentityID: map[string]*models.Organization{}})

	job.runOnce(context.Background())

	if directory.userCalls.Load() != 0 {
		t.Error("a rate-limited organization pass must abort before the user pass")
	}
}

func TestStartDisabledDoesNotRun(t *testing.T) {
	directory := &fakeDirectory{}
	job := NewIdentitySyncJob(directory, &fakeSyncUsers{}, &fakeSyncOrgs{byIdentityID: map[string]*models.Organization{}}, &config.SyncConfig{Enabled: false})

	job.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	if directory.orgCalls.Load() != 0 {
		t.Error("a disabled job must not contact the provider")
	}
}

func TestStartAndStop(t *testing.T) {
	directory := &fakeDirectory{}
	users := &fakeSyncUsers{byIdentityID: map[string]*models.User{}}
	orgs := &fakeSyncOrgs{byIdentityID: map[string]*models.Organization{}}
	job := newSyncJob(directory, users, orgs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job.Start(ctx)
	// Wait for the immediate first pass.
	deadline := time.After(2 * time.Second)
	for directory.orgCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the initial sync pass")
		case <-time.After(5 * time.Millisecond):
		}
	}
	job.Stop()
}
