// Package jobs contains background workers that run on a schedule.
// The identity sync job periodically reconciles the record store against the
// identity provider so records drift no further than one interval even when
// webhook deliveries are missed. Jobs are idempotent: re-running after a
// crash produces the same result as a clean run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-hub/compliance-hub/internal/config"
	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/identity"
	"github.com/compliance-hub/compliance-hub/internal/safego"
	"github.com/compliance-hub/compliance-hub/internal/telemetry"
)

// identityDirectory is the slice of the identity client the sync job needs.
type identityDirectory interface {
	ListOrganizations(ctx context.Context, limit, offset int) ([]identity.Organization, error)
	ListUsers(ctx context.Context, limit, offset int) ([]identity.User, error)
}

// syncUserStore is the slice of the user repository the sync job needs.
type syncUserStore interface {
	GetUserByIdentityID(ctx context.Context, identityID string) (*models.User, error)
	UpdateUser(ctx context.Context, userID string, patch repositories.UserPatch) error
}

// syncOrgStore is the slice of the organization repository the sync job needs.
type syncOrgStore interface {
	GetByIdentityID(ctx context.Context, identityID string) (*models.Organization, error)
	Create(ctx context.Context, org *models.Organization) error
	Update(ctx context.Context, org *models.Organization) error
}

// IdentitySyncJob reconciles organizations and users from the identity
// provider into the record store on a fixed interval.
type IdentitySyncJob struct {
	directory identityDirectory
	users     syncUserStore
	orgs      syncOrgStore
	cfg       *config.SyncConfig
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewIdentitySyncJob creates the reconciliation job.
func NewIdentitySyncJob(directory identityDirectory, users syncUserStore, orgs syncOrgStore, cfg *config.SyncConfig) *IdentitySyncJob {
	return &IdentitySyncJob{
		directory: directory,
		users:     users,
		orgs:      orgs,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop. It runs one pass immediately,
// then repeats on the configured interval. The loop exits when ctx is
// cancelled or Stop() is called.
func (j *IdentitySyncJob) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		slog.Info("identity sync job disabled")
		return
	}

	interval := j.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	slog.Info("identity sync job started", "interval", interval)

	j.wg.Add(1)
	safego.Go(func() {
		defer j.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		j.runOnce(ctx)

		for {
			select {
			case <-ticker.C:
				j.runOnce(ctx)
			case <-j.stopCh:
				slog.Info("identity sync job stopped")
				return
			case <-ctx.Done():
				slog.Info("identity sync job context cancelled")
				return
			}
		}
	})
}

// Stop signals the background loop to exit and waits for it.
func (j *IdentitySyncJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

// runOnce performs one full reconciliation pass. A rate-limited provider
// aborts the pass quietly — the next tick retries; anything else is counted
// and logged.
func (j *IdentitySyncJob) runOnce(ctx context.Context) {
	started := time.Now()

	orgCount, err := j.syncOrganizations(ctx)
	if err != nil {
		j.recordError("organizations", err)
		return
	}

	userCount, err := j.syncUsers(ctx)
	if err != nil {
		j.recordError("users", err)
		return
	}

	telemetry.IdentitySyncDuration.Observe(time.Since(started).Seconds())
	slog.Info("identity sync pass complete",
		"organizations", orgCount, "users", userCount, "duration", time.Since(started))
}

func (j *IdentitySyncJob) recordError(stage string, err error) {
	if errors.Is(err, identity.ErrRateLimited) {
		slog.Warn("identity sync pass rate limited, retrying next interval", "stage", stage)
		return
	}
	telemetry.IdentitySyncErrorsTotal.Inc()
	slog.Error("identity sync pass failed", "stage", stage, "error", err)
}

// pageSize returns the configured page size, defaulting to 100.
func (j *IdentitySyncJob) pageSize() int {
	if j.cfg.PageSize > 0 {
		return j.cfg.PageSize
	}
	return 100
}

// syncOrganizations pages through the provider's organizations, creating
// missing records and refreshing names on existing ones. Plan and seat fields
// are owned by the record store and never overwritten from the provider.
func (j *IdentitySyncJob) syncOrganizations(ctx context.Context) (int, error) {
	size := j.pageSize()
	total := 0

	for offset := 0; ; offset += size {
		page, err := j.directory.ListOrganizations(ctx, size, offset)
		if err != nil {
			return total, fmt.Errorf("failed to list provider organizations: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}

		for _, po := range page {
			existing, err := j.orgs.GetByIdentityID(ctx, po.ID)
			if err != nil {
				return total, err
			}

			if existing == nil {
				org := &models.Organization{
					ID:         uuid.New().String(),
					IdentityID: po.ID,
					Name:       po.Name,
					Plan:       "free",
					PlanStatus: "active",
				}
				if err := j.orgs.Create(ctx, org); err != nil {
					return total, err
				}
				telemetry.IdentitySyncRecordsTotal.WithLabelValues("organization").Inc()
				total++
				continue
			}

			if existing.Name != po.Name {
				existing.Name = po.Name
				if err := j.orgs.Update(ctx, existing); err != nil {
					return total, err
				}
				telemetry.IdentitySyncRecordsTotal.WithLabelValues("organization").Inc()
				total++
			}
		}

		if len(page) < size {
			return total, nil
		}
	}
}

// syncUsers pages through the provider's users and refreshes profile fields
// on users the record store already knows. Users the provider lists but the
// store does not are left alone: records are created on first login, not
// eagerly for every provider account.
func (j *IdentitySyncJob) syncUsers(ctx context.Context) (int, error) {
	size := j.pageSize()
	total := 0

	for offset := 0; ; offset += size {
		page, err := j.directory.ListUsers(ctx, size, offset)
		if err != nil {
			return total, fmt.Errorf("failed to list provider users: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}

		for _, pu := range page {
			pu := pu // patch fields point into pu; keep each iteration's copy alive
			existing, err := j.users.GetUserByIdentityID(ctx, pu.ID)
			if err != nil {
				return total, err
			}
			if existing == nil {
				continue
			}

			patch := repositories.UserPatch{}
			changed := false
			if existing.Email != pu.Email {
				patch.Email = &pu.Email
				changed = true
			}
			if existing.FirstName != pu.FirstName {
				patch.FirstName = &pu.FirstName
				changed = true
			}
			if existing.LastName != pu.LastName {
				patch.LastName = &pu.LastName
				changed = true
			}
			if active := !pu.Banned; existing.Active != active {
				patch.Active = &active
				changed = true
			}
			if !changed {
				continue
			}

			if err := j.users.UpdateUser(ctx, existing.ID, patch); err != nil {
				return total, err
			}
			telemetry.IdentitySyncRecordsTotal.WithLabelValues("user").Inc()
			total++
		}

		if len(page) < size {
			return total, nil
		}
	}
}
