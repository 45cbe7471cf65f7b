// store.go defines the MetadataStore interface the bridge writes snapshots
// through, and the identity-provider-backed implementation. The store is
// injected so tests substitute an in-memory fake and deployments can choose
// the Redis backend instead of provider metadata round-trips.
package session

import (
	"context"
	"encoding/json"

	"github.com/compliance-hub/compliance-hub/internal/identity"
)

// MetadataKey is the key snapshots live under in the per-user metadata blob.
const MetadataKey = "session_snapshot"

// MetadataStore is a per-user key-value cache for encoded snapshots.
// Get returns (nil, nil) when no value is stored. Implementations surface the
// provider's rate limiting as identity.ErrRateLimited.
type MetadataStore interface {
	Get(ctx context.Context, userID string) (json.RawMessage, error)
	Set(ctx context.Context, userID string, value json.RawMessage) error
}

// metadataAPI is the slice of the identity client the store needs.
type metadataAPI interface {
	GetUserMetadata(ctx context.Context, userID, key string) (json.RawMessage, error)
	SetUserMetadata(ctx context.Context, userID, key string, value json.RawMessage) error
}

// IdentityStore caches snapshots in the identity provider's per-user private
// metadata — the provider doubles as the session cache so a deployment needs
// no extra infrastructure.
type IdentityStore struct {
	api metadataAPI
}

// NewIdentityStore creates a MetadataStore backed by the provider metadata API.
func NewIdentityStore(api metadataAPI) *IdentityStore {
	return &IdentityStore{api: api}
}

// Get reads the stored snapshot payload. A user the provider does not know
// is reported as absent, not as an error: the snapshot is disposable and the
// caller's user lookup is the authoritative existence check.
func (s *IdentityStore) Get(ctx context.Context, userID string) (json.RawMessage, error) {
	raw, err := s.api.GetUserMetadata(ctx, userID, MetadataKey)
	if err == identity.ErrNotFound {
		return nil, nil
	}
	return raw, err
}

// Set writes the snapshot payload.
func (s *IdentityStore) Set(ctx context.Context, userID string, value json.RawMessage) error {
	return s.api.SetUserMetadata(ctx, userID, MetadataKey, value)
}
