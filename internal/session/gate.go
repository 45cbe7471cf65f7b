// gate.go implements the cache gate: the age check that decides whether a
// cached snapshot may be served or must be rebuilt.
package session

import "time"

// DefaultStaleAfter is the snapshot age threshold when none is configured.
const DefaultStaleAfter = 24 * time.Hour

// Gate decides snapshot staleness against an injected clock. The gate takes
// no locks: two requests racing on a stale snapshot both rebuild, and the
// last push to the cache wins. That is accepted behavior — the snapshot is a
// pure cache holding no authoritative data, so a lost rebuild costs one extra
// rebuild later, nothing more.
type Gate struct {
	staleAfter time.Duration
	now        func() time.Time
}

// NewGate creates a gate with the given threshold; threshold <= 0 selects
// DefaultStaleAfter. now may be nil, which selects time.Now.
func NewGate(staleAfter time.Duration, now func() time.Time) *Gate {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{staleAfter: staleAfter, now: now}
}

// IsStale reports whether the snapshot's age meets or exceeds the threshold.
// A nil snapshot is stale by definition.
func (g *Gate) IsStale(s *Snapshot) bool {
	if s == nil {
		return true
	}
	return g.now().Sub(s.Cache.LastUpdated) >= g.staleAfter
}

// Invalidate forces the snapshot stale by setting its timestamp to the Unix
// epoch, which guarantees the next IsStale check returns true regardless of
// clock skew between writers.
func (g *Gate) Invalidate(s *Snapshot) {
	s.Cache.LastUpdated = time.Unix(0, 0).UTC()
}
