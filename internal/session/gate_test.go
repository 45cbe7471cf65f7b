package session

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGateIsStale(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	gate := NewGate(24*time.Hour, fixedClock(now))

	tests := []struct {
		name        string
		lastUpdated time.Time
		stale       bool
	}{
		{"fresh", now.Add(-time.Hour), false},
		{"just under threshold", now.Add(-24*time.Hour + time.Second), false},
		{"exactly at threshold", now.Add(-24 * time.Hour), true},
		{"well past threshold", now.Add(-48 * time.Hour), true},
		{"future timestamp from clock skew", now.Add(time.Hour), false},
	}

	for _, tt := range tests {
		s := &Snapshot{Cache: CacheDescriptor{LastUpdated: tt.lastUpdated}}
		if got := gate.IsStale(s); got != tt.stale {
			t.Errorf("%s: IsStale = %v, want %v", tt.name, got, tt.stale)
		}
	}
}

func TestGateNilSnapshotIsStale(t *testing.T) {
	gate := NewGate(0, nil)
	if !gate.IsStale(nil) {
		t.Error("expected a nil snapshot to be stale")
	}
}

func TestGateDefaultThreshold(t *testing.T) {
	now := time.Now()
	gate := NewGate(0, fixedClock(now))
	s := &Snapshot{Cache: CacheDescriptor{LastUpdated: now.Add(-23 * time.Hour)}}
	if gate.IsStale(s) {
		t.Error("expected a 23h-old snapshot fresh under the default threshold")
	}
	s.Cache.LastUpdated = now.Add(-25 * time.Hour)
	if !gate.IsStale(s) {
		t.Error("expected a 25h-old snapshot stale under the default threshold")
	}
}

func TestGateInvalidateForcesStale(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	gate := NewGate(24*time.Hour, fixedClock(now))

	s := &Snapshot{Cache: CacheDescriptor{LastUpdated: now, Version: 5}}
	if gate.IsStale(s) {
		t.Fatal("snapshot should start fresh")
	}

	gate.Invalidate(s)
	if !gate.IsStale(s) {
		t.Error("expected an invalidated snapshot to be stale")
	}
	if !s.Cache.LastUpdated.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("expected epoch timestamp, got %v", s.Cache.LastUpdated)
	}
	if s.Cache.Version != 5 {
		t.Errorf("invalidation should not touch version, got %d", s.Cache.Version)
	}
}
