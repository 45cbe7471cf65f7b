// Package config loads and validates the Compliance Hub configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CMP_ prefix (e.g., CMP_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The identity provider secret key and the JWT secret are read from the
// environment only (CMP_IDENTITY_SECRET_KEY, CMP_JWT_SECRET); they are never
// written into a config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	SessionCache SessionCacheConfig `mapstructure:"session_cache"`
	Security     SecurityConfig     `mapstructure:"security"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Sync         SyncConfig         `mapstructure:"sync"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetAddress returns the host:port the HTTP server listens on
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetDSN builds the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// IdentityConfig holds configuration for the external identity provider.
// The provider owns authentication (hosted login, user/org records of truth
// for identity) and exposes a backend REST API plus a JWKS endpoint for
// verifying the session tokens it issues.
type IdentityConfig struct {
	// BaseURL is the provider's backend API base (e.g. https://api.clerk.example.com/v1)
	BaseURL string `mapstructure:"base_url"`
	// SecretKey authenticates backend API calls; read from CMP_IDENTITY_SECRET_KEY
	SecretKey string `mapstructure:"secret_key"`
	// IssuerURL is the OIDC issuer used to verify provider-issued session JWTs
	IssuerURL string `mapstructure:"issuer_url"`
	// WebhookSigningSecret verifies inbound provider webhooks (HMAC-SHA256)
	WebhookSigningSecret string `mapstructure:"webhook_signing_secret"`
	// Timeout bounds each backend API call
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionCacheConfig selects where materialized session snapshots are cached.
type SessionCacheConfig struct {
	// Backend is "identity" (provider per-user metadata, the default) or "redis"
	Backend string `mapstructure:"backend"`
	// StaleAfter is the snapshot age threshold before a rebuild is forced
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Redis     RedisConfig    `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the redis cache backend
// and the distributed rate limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// Distributed switches the auth-endpoint limiter to redis_rate so limits
	// hold across replicas; requires session_cache.redis to be configured.
	Distributed bool `mapstructure:"distributed"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit log shipping configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// File destination
	FilePath string `mapstructure:"file_path"`
	// Webhook destination (SIEM / log aggregator)
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

// SyncConfig holds identity-provider reconciliation job configuration
type SyncConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	PageSize      int           `mapstructure:"page_size"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Identity provider
		"identity.base_url",
		"identity.secret_key",
		"identity.issuer_url",
		"identity.webhook_signing_secret",
		"identity.timeout",

		// Session cache
		"session_cache.backend",
		"session_cache.stale_after",
		"session_cache.redis.addr",
		"session_cache.redis.password",
		"session_cache.redis.db",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.distributed",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.file_path",
		"audit.webhook_url",
		"audit.webhook_timeout",

		// Sync
		"sync.enabled",
		"sync.interval",
		"sync.page_size",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/compliance-hub")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("CMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields so YAML can reference
	// secret names instead of embedding secret values.
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Identity.SecretKey = expandEnv(cfg.Identity.SecretKey)
	cfg.Identity.WebhookSigningSecret = expandEnv(cfg.Identity.WebhookSigningSecret)
	cfg.SessionCache.Redis.Password = expandEnv(cfg.SessionCache.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "compliance_hub")
	v.SetDefault("database.user", "compliance")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Identity provider defaults
	v.SetDefault("identity.timeout", "10s")

	// Session cache defaults
	v.SetDefault("session_cache.backend", "identity")
	v.SetDefault("session_cache.stale_after", "24h")
	v.SetDefault("session_cache.redis.addr", "localhost:6379")
	v.SetDefault("session_cache.redis.db", 0)

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.rate_limiting.distributed", false)
	v.SetDefault("security.cors.allowed_origins", []string{})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "compliance-hub")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.webhook_timeout", "10s")

	// Sync defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", "1h")
	v.SetDefault("sync.page_size", 100)
}

// expandEnv expands ${VAR} or $VAR references in a config value. A value
// without references is returned unchanged.
func expandEnv(value string) string {
	if strings.Contains(value, "$") {
		return os.ExpandEnv(value)
	}
	return value
}

// Validate checks that required configuration values are present and coherent
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}

	if c.Identity.BaseURL == "" {
		return fmt.Errorf("identity.base_url is required")
	}
	if c.Identity.SecretKey == "" {
		return fmt.Errorf("identity.secret_key is required (set CMP_IDENTITY_SECRET_KEY)")
	}

	switch c.SessionCache.Backend {
	case "identity":
	case "redis":
		if c.SessionCache.Redis.Addr == "" {
			return fmt.Errorf("session_cache.redis.addr is required when session_cache.backend=redis")
		}
	default:
		return fmt.Errorf("session_cache.backend must be \"identity\" or \"redis\", got %q", c.SessionCache.Backend)
	}
	if c.SessionCache.StaleAfter <= 0 {
		return fmt.Errorf("session_cache.stale_after must be positive, got %v", c.SessionCache.StaleAfter)
	}

	if c.Security.RateLimiting.Distributed && c.SessionCache.Redis.Addr == "" {
		return fmt.Errorf("security.rate_limiting.distributed requires session_cache.redis.addr")
	}

	if c.Audit.Enabled && c.Audit.FilePath == "" && c.Audit.WebhookURL == "" {
		return fmt.Errorf("audit.enabled requires audit.file_path or audit.webhook_url")
	}

	return nil
}
