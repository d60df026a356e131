// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package backhaul

import (
	"sync/atomic"
	"time"
)

// KeepaliveTracker implements the Hardware Keepalive contract (C7): while a
// session requires internet egress, the active interface must see at least
// one probe per interval, because some WAN hardware silently drops idle TCP
// state. The "last keepalive" timestamp is a lock-free atomic so Tick can
// be called from the management loop without taking the Manager's lock.
type KeepaliveTracker struct {
	lastNano atomic.Int64
	interval time.Duration
}

// NewKeepaliveTracker returns a tracker with no prior keepalive recorded;
// the first Tick always fires.
func NewKeepaliveTracker(interval time.Duration) *KeepaliveTracker {
	return &KeepaliveTracker{interval: interval}
}

// Tick reports whether interval has elapsed since the last stamped
// keepalive, stamping now as the new last-keepalive time if and only if it
// has. Safe for concurrent use.
func (k *KeepaliveTracker) Tick(now time.Time) bool {
	nowNano := now.UnixNano()
	for {
		last := k.lastNano.Load()
		if last != 0 && now.Sub(time.Unix(0, last)) < k.interval {
			return false
		}
		if k.lastNano.CompareAndSwap(last, nowNano) {
			return true
		}
	}
}

// LastKeepalive returns the most recently stamped keepalive time, the zero
// Time if none has ever been stamped. Exposed so the Session Registry (C10)
// side can observe it for testability.
func (k *KeepaliveTracker) LastKeepalive() time.Time {
	nano := k.lastNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}
