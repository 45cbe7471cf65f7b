package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "compliance",
				Password: "secret",
				Name:     "compliance_hub",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=compliance password=secret dbname=compliance_hub sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "mydb",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CMP_IDENTITY_BASE_URL", "https://api.identity.example.com/v1")
	t.Setenv("CMP_IDENTITY_SECRET_KEY", "sk_test_abc")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.SessionCache.Backend != "identity" {
		t.Errorf("session_cache.backend = %q, want identity", cfg.SessionCache.Backend)
	}
	if cfg.SessionCache.StaleAfter != 24*time.Hour {
		t.Errorf("session_cache.stale_after = %v, want 24h", cfg.SessionCache.StaleAfter)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	validEnv(t)
	t.Setenv("CMP_DATABASE_HOST", "db.internal")
	t.Setenv("CMP_SESSION_CACHE_STALE_AFTER", "1h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want db.internal", cfg.Database.Host)
	}
	if cfg.SessionCache.StaleAfter != time.Hour {
		t.Errorf("session_cache.stale_after = %v, want 1h", cfg.SessionCache.StaleAfter)
	}
}

func TestLoadMissingIdentitySecret(t *testing.T) {
	t.Setenv("CMP_IDENTITY_BASE_URL", "https://api.identity.example.com/v1")
	t.Setenv("CMP_IDENTITY_SECRET_KEY", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing identity.secret_key")
	}
	if !strings.Contains(err.Error(), "identity.secret_key") {
		t.Errorf("error = %v, want mention of identity.secret_key", err)
	}
}

func TestLoadSecretExpansion(t *testing.T) {
	validEnv(t)
	os.Setenv("DB_PASSWORD_FROM_VAULT", "s3cret")
	t.Cleanup(func() { os.Unsetenv("DB_PASSWORD_FROM_VAULT") })
	t.Setenv("CMP_DATABASE_PASSWORD", "${DB_PASSWORD_FROM_VAULT}")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("database.password = %q, want expanded value", cfg.Database.Password)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func baseConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Name: "compliance_hub"},
		Identity: IdentityConfig{
			BaseURL:   "https://api.identity.example.com/v1",
			SecretKey: "sk_test_abc",
		},
		SessionCache: SessionCacheConfig{
			Backend:    "identity",
			StaleAfter: 24 * time.Hour,
		},
	}
}

func TestValidateRedisBackendRequiresAddr(t *testing.T) {
	cfg := baseConfig()
	cfg.SessionCache.Backend = "redis"
	cfg.SessionCache.Redis.Addr = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis backend without addr")
	}

	cfg.SessionCache.Redis.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with addr set: %v", err)
	}
}

func TestValidateUnknownCacheBackend(t *testing.T) {
	cfg := baseConfig()
	cfg.SessionCache.Backend = "memcached"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown cache backend")
	}
}

func TestValidateAuditRequiresDestination(t *testing.T) {
	cfg := baseConfig()
	cfg.Audit.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for audit enabled without destination")
	}

	cfg.Audit.FilePath = "/var/log/audit.jsonl"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with file destination: %v", err)
	}
}
