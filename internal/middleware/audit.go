// audit.go provides Gin middleware that records authenticated write operations
// to the configured audit destinations.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/audit"
	"github.com/compliance-hub/compliance-hub/internal/safego"
)

// auditResourceType maps a request path to the resource type recorded in the
// audit entry.
func auditResourceType(path string) string {
	switch {
	case strings.Contains(path, "/incidents"):
		return "incident"
	case strings.Contains(path, "/members"):
		return "membership"
	case strings.Contains(path, "/organizations"):
		return "organization"
	case strings.Contains(path, "/session"):
		return "session"
	case strings.Contains(path, "/users"):
		return "user"
	case strings.Contains(path, "/onboarding"):
		return "onboarding"
	default:
		return ""
	}
}

// AuditMiddleware ships an audit entry for every successful non-GET request.
// Shipping happens on a detached goroutine with its own timeout so a slow
// collector never adds latency to the response path; a delivery failure is
// logged, not surfaced.
func AuditMiddleware(shipper audit.Shipper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil {
			return
		}
		if c.Request.Method == "OPTIONS" || c.Request.Method == "GET" {
			return
		}
		if c.Writer.Status() >= 400 {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:    time.Now(),
			Action:       c.Request.Method + " " + c.Request.URL.Path,
			ResourceType: auditResourceType(c.Request.URL.Path),
			IPAddress:    c.ClientIP(),
			StatusCode:   c.Writer.Status(),
		}
		if userID, ok := c.Get(ContextUserIDKey); ok {
			if id, ok := userID.(string); ok {
				entry.UserID = id
			}
		}
		if requestID, ok := c.Get(RequestIDKey); ok {
			if id, ok := requestID.(string); ok {
				entry.Metadata = map[string]any{"request_id": id}
			}
		}

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shipper.Ship(ctx, entry); err != nil {
				slog.Error("failed to ship audit entry", "action", entry.Action, "error", err)
			}
		})
	}
}
