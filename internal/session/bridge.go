// bridge.go moves snapshots between this process and the metadata store.
// Push is best-effort: when the store is rate limited the result says so
// explicitly and the caller proceeds with the in-memory snapshot it already
// holds, so a rate-limited cache write never fails a login.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/compliance-hub/compliance-hub/internal/identity"
)

// PushResult reports whether a push actually reached the store. Callers can
// distinguish "refreshed the cache" from "skipped, serving in-memory state".
type PushResult struct {
	Skipped bool
	Reason  string
}

// Bridge persists snapshots to and retrieves them from a MetadataStore.
type Bridge struct {
	store MetadataStore
}

// NewBridge creates a bridge over the given store.
func NewBridge(store MetadataStore) *Bridge {
	return &Bridge{store: store}
}

// Push writes the snapshot to the store. A rate-limited store yields
// PushResult{Skipped: true} and a nil error; any other store failure is
// returned as an error. Concurrent pushes for the same user are
// last-write-wins by design.
func (b *Bridge) Push(ctx context.Context, userID string, snapshot *Snapshot) (PushResult, error) {
	encoded, err := snapshot.Encode()
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := b.store.Set(ctx, userID, encoded); err != nil {
		if errors.Is(err, identity.ErrRateLimited) {
			return PushResult{Skipped: true, Reason: "rate_limited"}, nil
		}
		return PushResult{}, fmt.Errorf("failed to push snapshot: %w", err)
	}
	return PushResult{}, nil
}

// Pull reads the snapshot for a user. Returns (nil, nil) when the store holds
// nothing usable — no entry, an empty payload, or a schema this binary does
// not understand. A corrupt payload is also treated as absent: the snapshot
// is rebuildable, so discarding it is strictly cheaper than failing the
// request over cache contents.
func (b *Bridge) Pull(ctx context.Context, userID string) (*Snapshot, error) {
	raw, err := b.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to pull snapshot: %w", err)
	}

	snapshot, err := DecodeSnapshot(raw)
	if err != nil {
		slog.Warn("discarding undecodable session snapshot", "user_id", userID, "error", err)
		return nil, nil
	}
	return snapshot, nil
}
