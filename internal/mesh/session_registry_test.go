// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mesh

import (
	"testing"
	"time"

	"meshcore.dev/core/internal/clock"
)

func withMockClock(t *testing.T) *clock.MockClock {
	t.Helper()
	mc := clock.NewMockClock(time.Unix(1000, 0))
	clock.SetClock(mc)
	t.Cleanup(clock.Reset)
	return mc
}

func TestAddRejectsDuplicateSessionID(t *testing.T) {
	reg := NewSessionRegistry()
	lease := NewLease("sess-1", "secret", "default", "policy-a", []string{"*.example.com:443"}, time.Unix(2000, 0))

	if !reg.Add(lease) {
		t.Fatalf("expected first Add to succeed")
	}
	if reg.Add(lease) {
		t.Fatalf("expected duplicate Add to be rejected")
	}
}

func TestRevokeMarksLeaseUnusableButKeepsItForLogging(t *testing.T) {
	withMockClock(t)
	reg := NewSessionRegistry()
	lease := NewLease("sess-1", "secret", "default", "policy-a", nil, time.Unix(2000, 0))
	reg.Add(lease)

	if !reg.Revoke("sess-1") {
		t.Fatalf("expected Revoke to report the session was present")
	}
	if reg.Revoke("sess-1") {
		t.Fatalf("expected a second Revoke to report it was already revoked")
	}

	snap, ok := reg.Snapshot("sess-1")
	if !ok {
		t.Fatalf("expected a revoked session to remain findable, distinct from not-found")
	}
	if snap.Usable(time.Unix(1500, 0)) {
		t.Fatalf("expected a revoked lease to be unusable")
	}
}

func TestSweepRemovesOnlyExpiredLeases(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Add(NewLease("expired", "tok", "p", "pol", nil, time.Unix(500, 0)))
	reg.Add(NewLease("live", "tok", "p", "pol", nil, time.Unix(5000, 0)))

	removed := reg.Sweep(time.Unix(1000, 0))
	if removed != 1 {
		t.Fatalf("expected one expired lease removed, got %d", removed)
	}
	if _, ok := reg.Snapshot("expired"); ok {
		t.Fatalf("expected expired lease to be gone")
	}
	if _, ok := reg.Snapshot("live"); !ok {
		t.Fatalf("expected live lease to survive the sweep")
	}
}

func TestInternetRequiredTracksUsableLeases(t *testing.T) {
	withMockClock(t)
	reg := NewSessionRegistry()

	if reg.InternetRequired() {
		t.Fatalf("expected false with no leases")
	}

	reg.Add(NewLease("sess-1", "tok", "p", "pol", nil, time.Unix(2000, 0)))
	if !reg.InternetRequired() {
		t.Fatalf("expected true with a live lease")
	}

	reg.Revoke("sess-1")
	if reg.InternetRequired() {
		t.Fatalf("expected false after the only lease is revoked")
	}
}

func TestVerifyTokenConstantTimeMatch(t *testing.T) {
	lease := NewLease("sess-1", "correct-horse", "p", "pol", nil, time.Unix(2000, 0))

	if !lease.VerifyToken("correct-horse") {
		t.Fatalf("expected correct token to verify")
	}
	if lease.VerifyToken("wrong-token") {
		t.Fatalf("expected incorrect token to fail verification")
	}
}

func TestSnapshotIsClone(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Add(NewLease("sess-1", "tok", "p", "pol", []string{"a.example.com:443"}, time.Unix(2000, 0)))

	snap, ok := reg.Snapshot("sess-1")
	if !ok {
		t.Fatalf("expected snapshot to be found")
	}
	snap.AllowedDestinations[0] = "mutated"

	snap2, _ := reg.Snapshot("sess-1")
	if snap2.AllowedDestinations[0] != "a.example.com:443" {
		t.Fatalf("expected internal state to be unaffected by mutating a clone")
	}
}
