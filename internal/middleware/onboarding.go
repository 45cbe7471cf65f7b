// onboarding.go provides middleware for authenticating first-run onboarding requests.
// Onboarding endpoints use a separate authentication scheme ("Authorization:
// OnboardingToken <token>") that is independent of the normal JWT auth chain. The
// token is generated once at first boot and invalidated after onboarding completes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
)

// OnboardingContextKey is the context key set when a request is authenticated
// via the onboarding token.
const OnboardingContextKey = "is_onboarding_request"

// onboardingRateLimiter tracks per-IP attempt counts to prevent brute-force
// attacks on the onboarding token. Allows maxAttempts per window per IP.
type onboardingRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newOnboardingRateLimiter() *onboardingRateLimiter {
	return &onboardingRateLimiter{
		attempts: make(map[string][]time.Time),
	}
}

const (
	onboardingMaxAttempts = 5
	onboardingRateWindow  = time.Minute
)

// allow returns true if the IP has not exceeded the rate limit.
func (rl *onboardingRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-onboardingRateWindow)

	// Prune old entries
	recent := make([]time.Time, 0, len(rl.attempts[ip]))
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= onboardingMaxAttempts {
		rl.attempts[ip] = recent
		return false
	}

	rl.attempts[ip] = append(recent, now)
	return true
}

// settingsReader is the slice of the settings repository the middleware needs.
type settingsReader interface {
	IsOnboardingCompleted(ctx context.Context) (bool, error)
	Get(ctx context.Context, key string) (string, error)
}

// OnboardingTokenMiddleware validates onboarding token authentication. It checks that:
//  1. Onboarding has not already been completed (returns 403 if it has).
//  2. The Authorization header contains a valid "OnboardingToken <token>" value.
//  3. The token matches the bcrypt hash stored in system_settings.
//  4. The IP is not rate-limited (max 5 attempts per minute).
//
// On success, sets OnboardingContextKey=true in the gin context and calls c.Next().
func OnboardingTokenMiddleware(settings settingsReader) gin.HandlerFunc {
	rateLimiter := newOnboardingRateLimiter()

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// Once onboarding finishes these endpoints are permanently disabled.
		completed, err := settings.IsOnboardingCompleted(ctx)
		if err != nil {
			slog.Error("onboarding middleware: failed to check onboarding status", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check onboarding status",
			})
			return
		}
		if completed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Onboarding has already been completed. These endpoints are permanently disabled.",
			})
			return
		}

		// Rate limit check before doing any bcrypt work.
		clientIP := c.ClientIP()
		if !rateLimiter.allow(clientIP) {
			slog.Warn("onboarding middleware: rate limit exceeded", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many onboarding token attempts. Try again in one minute.",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required. Use: Authorization: OnboardingToken <token>",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "OnboardingToken") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization scheme. Use: Authorization: OnboardingToken <token>",
			})
			return
		}
		rawToken := strings.TrimSpace(parts[1])

		storedHash, err := settings.Get(ctx, repositories.SettingOnboardingTokenHash)
		if err != nil {
			slog.Error("onboarding middleware: failed to get token hash", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to validate onboarding token",
			})
			return
		}
		if storedHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "No onboarding token has been generated. Restart the server to generate one.",
			})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(rawToken)); err != nil {
			slog.Warn("onboarding middleware: invalid onboarding token", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid onboarding token",
			})
			return
		}

		c.Set(OnboardingContextKey, true)
		c.Next()
	}
}
