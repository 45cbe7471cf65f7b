// @title           Compliance Hub API
// @version         1.0.0
// @description     Multi-tenant compliance management backend: session materialization, incident tracking, and organization administration.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "Backend-issued JWT: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090), separate from the main API server. This keeps the scrape path off the public ingress and away from rate-limiting middleware. Configure with CMP_TELEMETRY_METRICS_PROMETHEUS_PORT; the path is always GET /metrics.

// Package main is the entry point for the compliance hub server binary.
// It dispatches three subcommands, serve, migrate, and version, via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency. The serve command runs auto-migration
// on startup so freshly deployed containers never need a separate migration
// step.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/compliance-hub/compliance-hub/internal/api"
	"github.com/compliance-hub/compliance-hub/internal/auth"
	"github.com/compliance-hub/compliance-hub/internal/config"
	"github.com/compliance-hub/compliance-hub/internal/db"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("Compliance Hub v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise the structured logger first so all subsequent output uses the
	// configured format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails in production if CMP_JWT_SECRET is not set.
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	// Export DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	// Run migrations automatically on startup.
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	// First-boot onboarding token. If onboarding has not completed and no
	// token hash exists, generate one, log the raw token once, and store only
	// the bcrypt hash.
	sqlxDB := sqlx.NewDb(database, "postgres")
	settingsRepo := repositories.NewSettingsRepository(sqlxDB)
	if err := handleOnboardingToken(settingsRepo); err != nil {
		slog.Warn("onboarding token handling failed", "error", err)
	}

	// Prometheus metrics on a dedicated port, off the public ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, database)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "base_url", cfg.Server.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Background jobs stop after in-flight requests have drained.
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	fmt.Printf("Migration complete. Schema version: %d (dirty: %v)\n", schemaVersion, dirty)
	return nil
}

// handleOnboardingToken generates the one-time onboarding token on first boot.
// The raw token is logged once; only the bcrypt hash is stored.
func handleOnboardingToken(settings *repositories.SettingsRepository) error {
	ctx := context.Background()

	completed, err := settings.IsOnboardingCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to check onboarding status: %w", err)
	}
	if completed {
		return nil
	}

	existingHash, err := settings.Get(ctx, repositories.SettingOnboardingTokenHash)
	if err != nil {
		return fmt.Errorf("failed to check existing onboarding token: %w", err)
	}
	if existingHash != "" {
		log.Println("")
		log.Println("══════════════════════════════════════════════════════════════════")
		log.Println("  ONBOARDING REQUIRED: an onboarding token was previously generated.")
		log.Println("  If you lost it, delete onboarding_token_hash from system_settings")
		log.Println("  and restart the server to generate a new one.")
		log.Println("══════════════════════════════════════════════════════════════════")
		log.Println("")
		return nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return fmt.Errorf("failed to generate onboarding token: %w", err)
	}
	rawToken := "cmp_onboard_" + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(tokenBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawToken), 12)
	if err != nil {
		return fmt.Errorf("failed to hash onboarding token: %w", err)
	}
	if err := settings.Set(ctx, repositories.SettingOnboardingTokenHash, string(hash)); err != nil {
		return fmt.Errorf("failed to store onboarding token hash: %w", err)
	}

	separator := strings.Repeat("═", 66)
	log.Println("")
	log.Println(separator)
	log.Println("  FIRST-RUN ONBOARDING REQUIRED")
	log.Println("")
	log.Printf("  Onboarding Token: %s", rawToken)
	log.Println("")
	log.Println("  Use this token to complete onboarding:")
	log.Println("    POST /v1/onboarding/validate-token")
	log.Println("    Authorization: OnboardingToken <token>")
	log.Println("")
	log.Println("  The token is single-use and is retired when onboarding completes.")
	log.Println("  Treat it like a root password.")
	log.Println(separator)
	log.Println("")
	return nil
}
