// Package identity implements a client for the external identity provider's
// backend REST API: user/organization/membership lookup and the per-user
// metadata store that doubles as the session snapshot cache.
//
// The provider is the system of record for authentication; this service only
// reads identity state and writes derived metadata back. Rate limiting (HTTP
// 429) is part of the provider's contract and surfaces here as ErrRateLimited
// so callers can decide to skip optional work — it is never retried or queued
// at this layer.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/compliance-hub/compliance-hub/internal/config"
	"github.com/compliance-hub/compliance-hub/internal/telemetry"
)

// ErrNotFound is returned when the provider has no record for the requested id.
var ErrNotFound = errors.New("identity provider: not found")

// ErrRateLimited is returned on an HTTP 429 from the provider. Callers treat
// it as "skip this optional operation", never as a retryable failure.
var ErrRateLimited = errors.New("identity provider: rate limited")

// User is the provider's view of a user account.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email_address"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Banned    bool   `json:"banned"`
}

// Organization is the provider's view of an organization.
type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedAt int64  `json:"created_at"`
}

// Membership is one entry of a user's organization membership list.
type Membership struct {
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// Client talks to the identity provider's backend API. All calls are single
// request/response round-trips bounded by the configured timeout; the provider
// SDK-level retry behavior is whatever net/http does, which is none.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a provider API client from configuration.
func NewClient(cfg *config.IdentityConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// do issues one API call and decodes a 2xx JSON response into out (out may be
// nil for calls whose body is irrelevant). Maps 404 to ErrNotFound and 429 to
// ErrRateLimited; other non-2xx statuses become generic errors carrying the
// response body.
func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.IdentityAPICallsTotal.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	telemetry.IdentityAPICallsTotal.WithLabelValues(operation, statusClass(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("identity provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusClass(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "429"
	case code >= 200 && code <= 299:
		return "2xx"
	case code >= 400 && code <= 499:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}

// GetUser fetches a user by provider id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.do(ctx, "get_user", http.MethodGet, "/users/"+userID, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrganization fetches an organization by provider id.
func (c *Client) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	var org Organization
	if err := c.do(ctx, "get_organization", http.MethodGet, "/organizations/"+orgID, nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// ListMemberships returns the user's organization memberships in provider order.
func (c *Client) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	var payload struct {
		Data []Membership `json:"data"`
	}
	if err := c.do(ctx, "list_memberships", http.MethodGet, "/users/"+userID+"/organization_memberships", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// ListOrganizations pages through all provider organizations; used by the
// identity sync job.
func (c *Client) ListOrganizations(ctx context.Context, limit, offset int) ([]Organization, error) {
	var payload struct {
		Data []Organization `json:"data"`
	}
	path := fmt.Sprintf("/organizations?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, "list_organizations", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// ListUsers pages through all provider users; used by the identity sync job.
func (c *Client) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	var payload struct {
		Data []User `json:"data"`
	}
	path := fmt.Sprintf("/users?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, "list_users", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// GetUserMetadata reads the provider's per-user private metadata blob. A user
// with no metadata yet returns an empty RawMessage, not ErrNotFound.
func (c *Client) GetUserMetadata(ctx context.Context, userID, key string) (json.RawMessage, error) {
	var payload struct {
		PrivateMetadata map[string]json.RawMessage `json:"private_metadata"`
	}
	if err := c.do(ctx, "get_metadata", http.MethodGet, "/users/"+userID+"/metadata", nil, &payload); err != nil {
		return nil, err
	}
	return payload.PrivateMetadata[key], nil
}

// SetUserMetadata merges one key into the provider's per-user private metadata.
func (c *Client) SetUserMetadata(ctx context.Context, userID, key string, value json.RawMessage) error {
	body := map[string]any{
		"private_metadata": map[string]json.RawMessage{key: value},
	}
	return c.do(ctx, "set_metadata", http.MethodPatch, "/users/"+userID+"/metadata", body, nil)
}
