package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/audit"
)

// recordingShipper captures shipped entries on a channel so tests can wait
// for the detached shipping goroutine.
type recordingShipper struct {
	entries chan *audit.LogEntry
}

func newRecordingShipper() *recordingShipper {
	return &recordingShipper{entries: make(chan *audit.LogEntry, 8)}
}

func (s *recordingShipper) Ship(_ context.Context, entry *audit.LogEntry) error {
	s.entries <- entry
	return nil
}

func (s *recordingShipper) Close() error { return nil }

func (s *recordingShipper) wait(t *testing.T) *audit.LogEntry {
	t.Helper()
	select {
	case e := <-s.entries:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit entry")
		return nil
	}
}

func (s *recordingShipper) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.entries:
		t.Fatalf("unexpected audit entry: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func auditRouter(shipper audit.Shipper, status int) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserIDKey, "u1")
		c.Next()
	})
	r.Use(AuditMiddleware(shipper))
	handler := func(c *gin.Context) { c.Status(status) }
	r.GET("/v1/organizations/:id/incidents", handler)
	r.POST("/v1/organizations/:id/incidents", handler)
	return r
}

func TestAuditMiddlewareShipsSuccessfulWrites(t *testing.T) {
	shipper := newRecordingShipper()
	r := auditRouter(shipper, http.StatusCreated)

	req := httptest.NewRequest(http.MethodPost, "/v1/organizations/org-a/incidents", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := shipper.wait(t)
	if entry.Action != "POST /v1/organizations/org-a/incidents" {
		t.Errorf("unexpected action %q", entry.Action)
	}
	if entry.ResourceType != "incident" {
		t.Errorf("expected resource type incident, got %q", entry.ResourceType)
	}
	if entry.UserID != "u1" {
		t.Errorf("expected user u1, got %q", entry.UserID)
	}
	if entry.StatusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", entry.StatusCode)
	}
}

func TestAuditMiddlewareSkipsReads(t *testing.T) {
	shipper := newRecordingShipper()
	r := auditRouter(shipper, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/v1/organizations/org-a/incidents", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	shipper.expectNone(t)
}

func TestAuditMiddlewareSkipsFailures(t *testing.T) {
	shipper := newRecordingShipper()
	r := auditRouter(shipper, http.StatusForbidden)

	req := httptest.NewRequest(http.MethodPost, "/v1/organizations/org-a/incidents", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	shipper.expectNone(t)
}

func TestAuditResourceType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/organizations/org-a/incidents/i-1", "incident"},
		{"/v1/organizations/org-a/members/u-1", "membership"},
		{"/v1/organizations/org-a", "organization"},
		{"/v1/session/refresh", "session"},
		{"/v1/admin/users/u-1", "user"},
		{"/v1/onboarding/complete", "onboarding"},
		{"/healthz", ""},
	}
	for _, tt := range tests {
		if got := auditResourceType(tt.path); got != tt.want {
			t.Errorf("auditResourceType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
