// Package api wires together all HTTP routes for the compliance hub backend.
//
// Route grouping:
//   - /health, /ready, /version and GET /v1/onboarding/status are public.
//   - POST /v1/webhooks/identity is authenticated by its HMAC delivery
//     signature rather than a JWT.
//   - POST /v1/auth/login accepts an identity-provider token and is guarded by
//     the stricter auth rate limit.
//   - Everything else under /v1 requires a backend-issued JWT; organization
//     routes are additionally gated on the capabilities of the caller's
//     membership in the path organization, and the cross-tenant /v1/admin
//     group on the super_admin role.
//   - /v1/onboarding/* (except status) is guarded by the one-time onboarding
//     token and disabled permanently once onboarding completes.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/compliance-hub/compliance-hub/internal/api/admin"
	"github.com/compliance-hub/compliance-hub/internal/api/incidents"
	"github.com/compliance-hub/compliance-hub/internal/api/onboarding"
	"github.com/compliance-hub/compliance-hub/internal/api/sessions"
	"github.com/compliance-hub/compliance-hub/internal/api/webhooks"
	"github.com/compliance-hub/compliance-hub/internal/audit"
	"github.com/compliance-hub/compliance-hub/internal/cache"
	"github.com/compliance-hub/compliance-hub/internal/config"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/identity"
	"github.com/compliance-hub/compliance-hub/internal/jobs"
	"github.com/compliance-hub/compliance-hub/internal/middleware"
	"github.com/compliance-hub/compliance-hub/internal/session"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() after the HTTP server has drained.
type BackgroundServices struct {
	syncJob      *jobs.IdentitySyncJob
	rateLimiters []*middleware.RateLimiter
	auditShipper audit.Shipper
	redisClient  *redis.Client
}

// Shutdown stops all background goroutines and closes shared resources.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.syncJob != nil {
		bg.syncJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shipper", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, database *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories. Newer repositories take sqlx; the older ones wrap *sql.DB
	// directly.
	userRepo := repositories.NewUserRepository(database)
	orgRepo := repositories.NewOrganizationRepository(database)
	sqlxDB := sqlx.NewDb(database, "postgres")
	incidentRepo := repositories.NewIncidentRepository(sqlxDB)
	settingsRepo := repositories.NewSettingsRepository(sqlxDB)

	// Identity provider client and token verifier.
	providerClient := identity.NewClient(&cfg.Identity)
	verifier, err := identity.NewVerifier(context.Background(), &cfg.Identity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize identity token verifier: %w", err)
	}

	// Session snapshot store. The default keeps snapshots in the provider's
	// per-user metadata; redis is the self-hosted alternative.
	var snapshotStore session.MetadataStore
	switch cfg.SessionCache.Backend {
	case "", "identity":
		snapshotStore = session.NewIdentityStore(providerClient)
	case "redis":
		redisStore, err := cache.NewRedisStore(context.Background(), cfg.SessionCache.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis session cache: %w", err)
		}
		snapshotStore = redisStore
		bg.redisClient = redisStore.Client()
	default:
		return nil, nil, fmt.Errorf("unknown session cache backend: %q", cfg.SessionCache.Backend)
	}

	builder := session.NewBuilder(orgRepo, nil)
	gate := session.NewGate(cfg.SessionCache.StaleAfter, nil)
	bridge := session.NewBridge(snapshotStore)
	sessionService := session.NewService(userRepo, orgRepo, providerClient, builder, gate, bridge)

	// Audit shipping. A nil shipper disables the middleware.
	auditShipper, err := audit.NewShipperFromConfig(&cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit shipper: %w", err)
	}
	bg.auditShipper = auditShipper

	// Background reconciliation against the identity provider.
	syncJob := jobs.NewIdentitySyncJob(providerClient, userRepo, orgRepo, &cfg.Sync)
	syncJob.Start(context.Background())
	bg.syncJob = syncJob

	// Rate limiters. The auth endpoint gets the stricter config; with
	// Distributed enabled it moves to redis_rate so the limit holds across
	// replicas.
	var apiLimit, authLimit middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		apiLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
		})
		bg.rateLimiters = append(bg.rateLimiters, apiLimiter)
		apiLimit = apiLimiter

		if cfg.Security.RateLimiting.Distributed {
			redisClient := bg.redisClient
			if redisClient == nil {
				redisClient = redis.NewClient(&redis.Options{
					Addr:     cfg.SessionCache.Redis.Addr,
					Password: cfg.SessionCache.Redis.Password,
					DB:       cfg.SessionCache.Redis.DB,
				})
				bg.redisClient = redisClient
			}
			authLimit = middleware.NewRedisRateLimiter(redisClient, middleware.AuthRateLimitConfig())
		} else {
			authLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
			bg.rateLimiters = append(bg.rateLimiters, authLimiter)
			authLimit = authLimiter
		}
	}

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// System endpoints.
	router.GET("/health", healthCheckHandler(database))
	router.GET("/ready", readinessHandler(database, snapshotStore))
	router.GET("/version", versionHandler())

	// Handlers.
	sessionHandlers := sessions.NewHandlers(verifier, sessionService, 0)
	incidentHandlers := incidents.NewHandlers(incidentRepo)
	orgHandlers := admin.NewOrganizationHandlers(orgRepo)
	memberHandlers := admin.NewMemberHandlers(userRepo, orgRepo, sessionService)
	userHandlers := admin.NewUserHandlers(userRepo, sessionService)
	statsHandlers := admin.NewStatsHandlers(orgRepo, userRepo)
	onboardingHandlers := onboarding.NewHandlers(settingsRepo, userRepo, sessionService)
	webhookHandlers := webhooks.NewHandlers(cfg.Identity.WebhookSigningSecret, userRepo, sessionService)

	// Provider webhook deliveries authenticate by signature, not JWT.
	router.POST("/v1/webhooks/identity", webhookHandlers.HandleEvent())

	// Login exchanges a provider token for a backend JWT.
	login := router.Group("/v1/auth")
	if authLimit != nil {
		login.Use(middleware.RateLimitMiddleware(authLimit))
	}
	login.POST("/login", sessionHandlers.LoginHandler())

	// Authenticated API.
	authed := router.Group("/v1")
	if apiLimit != nil {
		authed.Use(middleware.RateLimitMiddleware(apiLimit))
	}
	authed.Use(middleware.AuthMiddleware(userRepo))
	authed.Use(middleware.AuditMiddleware(auditShipper))

	sess := authed.Group("/session")
	{
		sess.GET("", sessionHandlers.GetSessionHandler())
		sess.POST("/refresh", sessionHandlers.RefreshSessionHandler())
		sess.POST("/invalidate", sessionHandlers.InvalidateHandler())
		sess.PUT("/primary-organization", sessionHandlers.SwitchPrimaryHandler())
	}

	// Org-scoped routes derive capabilities from the caller's membership in
	// the path organization, not from their primary-membership role.
	orgs := authed.Group("/organizations/:id")
	{
		orgs.GET("", middleware.RequireOrgMembership(), orgHandlers.GetHandler())
		orgs.PUT("", middleware.RequireOrgCapability(middleware.CanManageOrganization), orgHandlers.UpdateHandler())

		orgs.GET("/members", middleware.RequireOrgCapability(middleware.CanManageMembers), memberHandlers.ListHandler())
		orgs.POST("/members", middleware.RequireOrgCapability(middleware.CanManageMembers), memberHandlers.AddHandler())
		orgs.PUT("/members/:user_id", middleware.RequireOrgCapability(middleware.CanManageMembers), memberHandlers.UpdateRoleHandler())
		orgs.DELETE("/members/:user_id", middleware.RequireOrgCapability(middleware.CanManageMembers), memberHandlers.RemoveHandler())

		orgs.GET("/incidents", middleware.RequireOrgCapability(middleware.CanViewIncidents), incidentHandlers.ListHandler())
		orgs.POST("/incidents", middleware.RequireOrgCapability(middleware.CanManageIncidents), incidentHandlers.CreateHandler())
		orgs.GET("/incidents/stats", middleware.RequireOrgCapability(middleware.CanViewAnalytics), incidentHandlers.StatsHandler())
		orgs.GET("/incidents/:incident_id", middleware.RequireOrgCapability(middleware.CanViewIncidents), incidentHandlers.GetHandler())
		orgs.PUT("/incidents/:incident_id", middleware.RequireOrgCapability(middleware.CanManageIncidents), incidentHandlers.UpdateHandler())
	}

	// Cross-tenant administration.
	adminGroup := authed.Group("/admin", middleware.RequireRole(session.RoleSuperAdmin))
	{
		adminGroup.GET("/organizations", orgHandlers.ListHandler())
		adminGroup.POST("/organizations", orgHandlers.CreateHandler())
		adminGroup.DELETE("/organizations/:id", orgHandlers.DeleteHandler())
		adminGroup.GET("/users", userHandlers.ListHandler())
		adminGroup.GET("/users/:id", userHandlers.GetHandler())
		adminGroup.PUT("/users/:id", userHandlers.UpdateHandler())
		adminGroup.GET("/stats", statsHandlers.OverviewHandler())
	}

	// First-run onboarding. Status is public; the rest is token-guarded.
	ob := router.Group("/v1/onboarding")
	{
		ob.GET("/status", onboardingHandlers.StatusHandler())

		guarded := ob.Group("", middleware.OnboardingTokenMiddleware(settingsRepo))
		guarded.POST("/validate-token", onboardingHandlers.ValidateTokenHandler())
		guarded.POST("/admin", onboardingHandlers.ConfigureAdminHandler())
		guarded.POST("/complete", onboardingHandlers.CompleteHandler())
	}

	return router, bg, nil
}

// @Summary      Health check
// @Description  Liveness probe. Verifies the database connection.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, time"
// @Failure      503  {object}  map[string]interface{}  "unhealthy"
// @Router       /health [get]
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Readiness probe. Verifies the database and the session snapshot store.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready, checks"
// @Failure      503  {object}  map[string]interface{}  "not ready"
// @Router       /ready [get]
func readinessHandler(db *sql.DB, store session.MetadataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe the snapshot store with a sentinel user id. A read of an
		// absent key exercises authentication and connectivity without
		// creating state.
		if _, err := store.Get(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["session_cache"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "session cache not ready",
			})
			return
		}
		checks["session_cache"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging via slog.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS against the configured allowed origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
