// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mesh implements the Mesh Peer Router (C8) and the Session
// Registry (C10): the cluster-wide view of which nodes can reach the
// internet directly or through a relay, and the set of leases that
// authorize the Session Gateway's data plane.
package mesh

import "sync"

// NodeKind is a node's declared relay capability.
type NodeKind string

const (
	NodeStandard  NodeKind = "standard"
	NodeUniversal NodeKind = "universal"
	NodeOpen      NodeKind = "open"
)

// Status is a node's last-known connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// PeerRoute is the derived path to a node's internet egress: Hops is empty
// for a direct path, or holds exactly one relay node ID.
type PeerRoute struct {
	Hops []string
}

type peerRecord struct {
	kind   NodeKind
	status Status
}

// PeerRouter is the Peer Router (C8). It holds the cluster's connectivity
// view and derives routes from it with a pure function; it is not itself a
// background task. A single reader-writer lock protects the registry;
// RegisterNode/UnregisterNode/SyncConnectivity are the only mutators.
type PeerRouter struct {
	mu    sync.RWMutex
	peers map[string]*peerRecord
}

// NewPeerRouter returns an empty PeerRouter.
func NewPeerRouter() *PeerRouter {
	return &PeerRouter{peers: make(map[string]*peerRecord)}
}

// RegisterNode adds nodeID to the registry with the given declared kind and
// an initial status of Unknown. Registering an already-known node updates
// its kind but leaves its current status untouched.
func (r *PeerRouter) RegisterNode(nodeID string, kind NodeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.peers[nodeID]; ok {
		rec.kind = kind
		return
	}
	r.peers[nodeID] = &peerRecord{kind: kind, status: StatusUnknown}
}

// UnregisterNode removes nodeID from the registry. A removed node can never
// again appear as a relay candidate.
func (r *PeerRouter) UnregisterNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, nodeID)
}

// SyncConnectivity is the single entry point for updating a node's
// connectivity status. Syncing an unregistered node is a no-op: status
// updates never implicitly register a node.
func (r *PeerRouter) SyncConnectivity(nodeID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.peers[nodeID]; ok {
		rec.status = status
	}
}

// FindPeerRoute derives nodeID's path to internet egress. If nodeID is
// itself Online, the path is direct (empty hops, ok=true). Otherwise the
// router selects another Online node whose kind is relay-eligible
// (Universal preferred over Open), breaking ties by the lexicographically
// smaller node ID. If no such node exists, ok is false (no route).
func (r *PeerRouter) FindPeerRoute(nodeID string) (PeerRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.peers[nodeID]; ok && rec.status == StatusOnline {
		return PeerRoute{}, true
	}

	var bestUniversal, bestOpen string
	haveUniversal, haveOpen := false, false

	for id, rec := range r.peers {
		if id == nodeID || rec.status != StatusOnline {
			continue
		}
		switch rec.kind {
		case NodeUniversal:
			if !haveUniversal || id < bestUniversal {
				bestUniversal, haveUniversal = id, true
			}
		case NodeOpen:
			if !haveOpen || id < bestOpen {
				bestOpen, haveOpen = id, true
			}
		}
	}

	if haveUniversal {
		return PeerRoute{Hops: []string{bestUniversal}}, true
	}
	if haveOpen {
		return PeerRoute{Hops: []string{bestOpen}}, true
	}
	return PeerRoute{}, false
}
