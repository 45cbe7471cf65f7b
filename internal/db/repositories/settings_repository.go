// settings_repository.go implements SettingsRepository, a small key-value
// store backing the first-run onboarding flow (bcrypt-hashed onboarding token
// and completion flag).
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	// SettingOnboardingTokenHash is the bcrypt hash of the one-time onboarding token.
	SettingOnboardingTokenHash = "onboarding_token_hash"
	// SettingOnboardingCompleted is "true" once onboarding has finished.
	SettingOnboardingCompleted = "onboarding_completed"
	// SettingOnboardingAdminEmail records which account was promoted to
	// super_admin during onboarding.
	SettingOnboardingAdminEmail = "onboarding_admin_email"
)

// SettingsRepository handles database operations for system settings
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the value for a key, or "" when the key is absent.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM system_settings WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Set upserts a key-value pair.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now())
	return err
}

// IsOnboardingCompleted reports whether the first-run onboarding flow has finished.
func (r *SettingsRepository) IsOnboardingCompleted(ctx context.Context) (bool, error) {
	value, err := r.Get(ctx, SettingOnboardingCompleted)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}
