// Package audit handles structured audit log emission for security-relevant
// events such as logins, membership changes, incident mutations, and session
// cache invalidations. Audit logs are intentionally separate from application
// logs because they have different consumers and retention requirements —
// application logs are ephemeral debug output consumed by on-call engineers,
// while audit logs are immutable records consumed by security teams and may be
// subject to compliance retention policies measured in years. The package
// supports multiple simultaneous destinations (file, webhook) via the Shipper
// interface so audit records can be routed to a SIEM or log aggregator
// independently of the application's own logging pipeline.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/compliance-hub/compliance-hub/internal/config"
)

// LogEntry represents a structured audit log entry
type LogEntry struct {
	Timestamp      time.Time      `json:"timestamp"`
	Action         string         `json:"action"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close cleans up any resources
	Close() error
}

// NewShipperFromConfig builds the configured shipper set. Returns nil when
// auditing is disabled; callers treat a nil shipper as "don't ship".
func NewShipperFromConfig(cfg *config.AuditConfig) (Shipper, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	var shippers []Shipper
	if cfg.FilePath != "" {
		fs, err := NewFileShipper(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create file audit shipper: %w", err)
		}
		shippers = append(shippers, fs)
	}
	if cfg.WebhookURL != "" {
		shippers = append(shippers, NewWebhookShipper(cfg.WebhookURL, cfg.WebhookTimeout))
	}

	switch len(shippers) {
	case 0:
		return nil, fmt.Errorf("audit enabled but no destination configured")
	case 1:
		return shippers[0], nil
	default:
		return NewMultiShipper(shippers...), nil
	}
}

// FileShipper appends JSON-lines entries to a local file.
type FileShipper struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the audit log file in append mode.
func NewFileShipper(path string) (*FileShipper, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileShipper{file: f}, nil
}

// Ship writes one JSON line per entry.
func (s *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileShipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// WebhookShipper POSTs each entry as JSON to an external collector.
type WebhookShipper struct {
	url    string
	client *http.Client
}

// NewWebhookShipper creates a webhook shipper. timeout <= 0 selects 10s.
func NewWebhookShipper(url string, timeout time.Duration) *WebhookShipper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookShipper{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Ship delivers the entry. Any non-2xx response is an error; the caller
// decides whether delivery failures are fatal (they are not, on the
// middleware path).
func (s *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create audit webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver audit entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audit webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op for the webhook shipper.
func (s *WebhookShipper) Close() error {
	return nil
}

// MultiShipper fans entries out to every destination. Ship returns the first
// error but still attempts all destinations, so one failing collector does
// not starve the others.
type MultiShipper struct {
	shippers []Shipper
}

// NewMultiShipper combines shippers into one.
func NewMultiShipper(shippers ...Shipper) *MultiShipper {
	return &MultiShipper{shippers: shippers}
}

// Ship sends the entry to all destinations.
func (s *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	var firstErr error
	for _, sh := range s.shippers {
		if err := sh.Ship(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes all destinations.
func (s *MultiShipper) Close() error {
	var firstErr error
	for _, sh := range s.shippers {
		if err := sh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
