// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mesh

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"

	"meshcore.dev/core/internal/clock"
)

// Lease is a session lease (C10's data model): what the Session Gateway
// data plane (C9) needs to authenticate and authorize one client's
// tunnels. The bearer token is never retained in plaintext — only its
// digest — so a snapshot of the registry can never leak a usable secret.
type Lease struct {
	SessionID           string
	TokenHash           [sha256.Size]byte
	EgressProfile       string
	DestinationPolicyID string
	AllowedDestinations []string
	ExpiresAt           time.Time
	RevokedAt           time.Time
}

// NewLease builds a Lease from a plaintext bearer token, hashing it
// immediately so the caller's copy is the only place the plaintext ever
// exists.
func NewLease(sessionID, token, egressProfile, destinationPolicyID string, allowedDestinations []string, expiresAt time.Time) Lease {
	return Lease{
		SessionID:           sessionID,
		TokenHash:           hashToken(token),
		EgressProfile:       egressProfile,
		DestinationPolicyID: destinationPolicyID,
		AllowedDestinations: append([]string(nil), allowedDestinations...),
		ExpiresAt:           expiresAt,
	}
}

func hashToken(token string) [sha256.Size]byte {
	return sha256.Sum256([]byte(token))
}

// VerifyToken reports whether token hashes to this lease's stored digest,
// using a constant-time comparison so a timing side channel can't be used
// to guess a valid bearer token byte by byte.
func (l Lease) VerifyToken(token string) bool {
	sum := hashToken(token)
	return subtle.ConstantTimeCompare(sum[:], l.TokenHash[:]) == 1
}

// Usable reports whether the lease may currently be used to open a tunnel:
// it must not be expired and must not have been revoked.
func (l Lease) Usable(now time.Time) bool {
	return now.Before(l.ExpiresAt) && l.RevokedAt.IsZero()
}

func (l Lease) clone() Lease {
	out := l
	out.AllowedDestinations = append([]string(nil), l.AllowedDestinations...)
	return out
}

// SessionRegistry is the Session Registry control side (C10). A single
// reader-writer lock protects the lease map; the data plane reads by
// cloned snapshot per handshake.
type SessionRegistry struct {
	mu     sync.RWMutex
	leases map[string]*Lease
}

// NewSessionRegistry returns an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{leases: make(map[string]*Lease)}
}

// Add inserts lease if its SessionID is not already present. It returns
// false, leaving the existing lease untouched, if the session ID is
// already registered — overwrite is never permitted.
func (r *SessionRegistry) Add(lease Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.leases[lease.SessionID]; exists {
		return false
	}
	stored := lease.clone()
	r.leases[lease.SessionID] = &stored
	return true
}

// Revoke marks sessionID as revoked. It returns true if the session was
// present and not already revoked. The entry is kept (not deleted) so the gateway can log a
// specific "session revoked" reason rather than conflating it with "no
// such session" — it is pruned later by Sweep once it expires.
// Revocation's contract is "no new tunnels accept this session," not "kill
// existing tunnels" — the gateway looks the session up once, at handshake
// time.
func (r *SessionRegistry) Revoke(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.leases[sessionID]
	if !ok || !l.RevokedAt.IsZero() {
		return false
	}
	l.RevokedAt = clock.Now()
	return true
}

// Sweep removes every lease whose ExpiresAt is at or before now, returning
// the number removed.
func (r *SessionRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, l := range r.leases {
		if !l.ExpiresAt.After(now) {
			delete(r.leases, id)
			removed++
		}
	}
	return removed
}

// InternetRequired reports whether at least one non-expired, non-revoked
// session currently exists. The Hardware Keepalive contract (C7) polls
// this to decide whether the active interface needs forced keepalive
// probes.
func (r *SessionRegistry) InternetRequired() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := clock.Now()
	for _, l := range r.leases {
		if l.Usable(now) {
			return true
		}
	}
	return false
}

// Snapshot returns a cloned copy of the lease identified by sessionID, for
// the gateway's per-handshake lookup. The clone is safe to retain past the
// registry's own lock.
func (r *SessionRegistry) Snapshot(sessionID string) (Lease, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.leases[sessionID]
	if !ok {
		return Lease{}, false
	}
	return l.clone(), true
}

// Count returns the number of leases currently held, for metrics.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.leases)
}
