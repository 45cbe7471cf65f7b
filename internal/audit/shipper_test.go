package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/compliance-hub/compliance-hub/internal/config"
)

func testEntry() *LogEntry {
	return &LogEntry{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Action:       "POST /v1/organizations/org-a/incidents",
		UserID:       "u1",
		ResourceType: "incident",
		StatusCode:   201,
	}
}

func TestFileShipperWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	shipper, err := NewFileShipper(path)
	if err != nil {
		t.Fatalf("NewFileShipper() error: %v", err)
	}
	t.Cleanup(func() { shipper.Close() })

	if err := shipper.Ship(context.Background(), testEntry()); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if err := shipper.Ship(context.Background(), testEntry()); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open audit file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if entry.Action != "POST /v1/organizations/org-a/incidents" {
			t.Errorf("line %d: unexpected action %q", lines, entry.Action)
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 JSON lines, got %d", lines)
	}
}

func TestWebhookShipperDelivers(t *testing.T) {
	var received LogEntry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	shipper := NewWebhookShipper(srv.URL, time.Second)
	if err := shipper.Ship(context.Background(), testEntry()); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if received.UserID != "u1" {
		t.Errorf("expected delivered entry for u1, got %+v", received)
	}
}

func TestWebhookShipperNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	shipper := NewWebhookShipper(srv.URL, time.Second)
	if err := shipper.Ship(context.Background(), testEntry()); err == nil {
		t.Error("expected an error for a 502 response")
	}
}

func TestMultiShipperAttemptsAllDestinations(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	var delivered int
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(working.Close)

	multi := NewMultiShipper(
		NewWebhookShipper(failing.URL, time.Second),
		NewWebhookShipper(working.URL, time.Second),
	)
	if err := multi.Ship(context.Background(), testEntry()); err == nil {
		t.Error("expected the first destination's error to surface")
	}
	if delivered != 1 {
		t.Errorf("expected the second destination still attempted, delivered=%d", delivered)
	}
}

func TestNewShipperFromConfig(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, err := NewShipperFromConfig(&config.AuditConfig{Enabled: false})
		if err != nil || s != nil {
			t.Errorf("expected (nil, nil) when disabled, got (%v, %v)", s, err)
		}
	})

	t.Run("enabled without destination", func(t *testing.T) {
		if _, err := NewShipperFromConfig(&config.AuditConfig{Enabled: true}); err == nil {
			t.Error("expected an error when enabled without a destination")
		}
	})

	t.Run("file destination", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		s, err := NewShipperFromConfig(&config.AuditConfig{Enabled: true, FilePath: path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		if _, ok := s.(*FileShipper); !ok {
			t.Errorf("expected a FileShipper, got %T", s)
		}
	})

	t.Run("both destinations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		s, err := NewShipperFromConfig(&config.AuditConfig{
			Enabled:  true,
			FilePath: path,
			WebhookURL: "http://audit.example.com/ingest",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		if _, ok := s.(*MultiShipper); !ok {
			t.Errorf("expected a MultiShipper, got %T", s)
		}
	})
}
