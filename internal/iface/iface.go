// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package iface discovers the host's network interfaces, classifies them by
// name pattern, and keeps a registry that the rest of the backhaul pipeline
// reads by clone.
package iface

import (
	"net"
	"sort"
	"strings"
	"sync"

	"meshcore.dev/core/internal/netutil"
)

// Kind classifies an interface by its name pattern.
type Kind string

const (
	KindEthernet     Kind = "ethernet"
	KindWiFi         Kind = "wifi"
	KindLTE          Kind = "lte"
	KindUSBTether    Kind = "usb_tether"
	KindBluetoothPan Kind = "bluetooth_pan"
	KindUnknown      Kind = "unknown"
)

// Classify maps an OS interface name to a Kind using the fixed name-pattern
// rules: Ethernet eth*/eno*/enp*/ens*, WiFi wlan*/wlp*, LTE wwan*/ppp*, USB
// tether usb*/enx*, Bluetooth PAN bnep*, else Unknown.
func Classify(name string) Kind {
	switch {
	case hasAnyPrefix(name, "eth", "eno", "enp", "ens"):
		return KindEthernet
	case hasAnyPrefix(name, "wlan", "wlp"):
		return KindWiFi
	case hasAnyPrefix(name, "wwan", "ppp"):
		return KindLTE
	case hasAnyPrefix(name, "usb", "enx"):
		return KindUSBTether
	case hasAnyPrefix(name, "bnep"):
		return KindBluetoothPan
	default:
		return KindUnknown
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Record describes one discovered interface. The discovery registry
// exclusively owns Records; every other component reads by Clone.
type Record struct {
	Name       string
	Kind       Kind
	LinkUp     bool
	Carrier    bool
	HasIPv4    bool
	MTU        int
	MAC        string
	Addresses  []string
	LocalIPv4  string
}

// Clone returns a deep copy of r, safe for a reader to retain past the
// registry's own lock.
func (r Record) Clone() Record {
	out := r
	if r.Addresses != nil {
		out.Addresses = append([]string(nil), r.Addresses...)
	}
	return out
}

// Candidate reports whether the interface is currently eligible for
// selection: it must have both a carrier and at least one IPv4 address.
func (r Record) Candidate() bool {
	return r.Carrier && r.HasIPv4
}

// Enumerator abstracts OS interface enumeration so tests can substitute a
// fixed topology without touching the kernel.
type Enumerator interface {
	Interfaces() ([]net.Interface, error)
	Addrs(iface net.Interface) ([]net.Addr, error)
}

// RealEnumerator enumerates interfaces via the standard library's net
// package, which on Linux is backed by netlink/rtnetlink under the hood.
type RealEnumerator struct{}

func (RealEnumerator) Interfaces() ([]net.Interface, error) {
	return net.Interfaces()
}

func (RealEnumerator) Addrs(iface net.Interface) ([]net.Addr, error) {
	return iface.Addrs()
}

// DefaultEnumerator is the Enumerator used by Registry when none is
// injected.
var DefaultEnumerator Enumerator = RealEnumerator{}

// Registry holds the most recently discovered interface set. One writer
// (the periodic discovery task), many readers.
type Registry struct {
	mu         sync.RWMutex
	records    map[string]Record
	enumerator Enumerator
	namespace  string
}

// NewRegistry returns an empty Registry backed by the real OS enumerator,
// discovering in the process's own network namespace.
func NewRegistry() *Registry {
	return &Registry{
		records:    make(map[string]Record),
		enumerator: DefaultEnumerator,
	}
}

// NewRegistryInNamespace returns an empty Registry that runs each Discover
// pass inside the named network namespace, for deployments that keep their
// backhaul interfaces in a dedicated VRF-style namespace rather than the
// default one.
func NewRegistryInNamespace(namespace string) *Registry {
	return &Registry{
		records:    make(map[string]Record),
		enumerator: DefaultEnumerator,
		namespace:  namespace,
	}
}

// NewRegistryWithEnumerator returns an empty Registry backed by the given
// Enumerator, for tests.
func NewRegistryWithEnumerator(e Enumerator) *Registry {
	return &Registry{
		records:    make(map[string]Record),
		enumerator: e,
	}
}

// Discover refreshes the registry from a single enumeration pass. Interfaces
// absent from this pass but present previously are dropped; callers that
// want "absent for one full cycle" eviction should call Discover once per
// cycle and rely on this replace-in-place behavior. On enumeration failure
// Discover reports empty rather than returning a partial or crashing
// snapshot, per the discovery contract.
func (reg *Registry) Discover() error {
	var links []net.Interface
	var err error
	addrsByName := make(map[string][]net.Addr)

	enumerate := func() error {
		links, err = reg.enumerator.Interfaces()
		if err != nil {
			return err
		}
		for _, link := range links {
			if addrs, aerr := reg.enumerator.Addrs(link); aerr == nil {
				addrsByName[link.Name] = addrs
			}
		}
		return nil
	}
	if reg.namespace != "" {
		err = netutil.RunInNamespace(reg.namespace, enumerate)
	} else {
		err = enumerate()
	}
	if err != nil {
		reg.mu.Lock()
		reg.records = make(map[string]Record)
		reg.mu.Unlock()
		return err
	}

	next := make(map[string]Record, len(links))
	for _, link := range links {
		rec := Record{
			Name:    link.Name,
			Kind:    Classify(link.Name),
			LinkUp:  link.Flags&net.FlagUp != 0,
			Carrier: link.Flags&net.FlagRunning != 0,
			MTU:     link.MTU,
			MAC:     netutil.FormatMAC([]byte(link.HardwareAddr)),
		}

		for _, a := range addrsByName[link.Name] {
			rec.Addresses = append(rec.Addresses, a.String())
			ip := addrIP(a)
			if ip != nil && ip.To4() != nil {
				rec.HasIPv4 = true
				if rec.LocalIPv4 == "" {
					rec.LocalIPv4 = ip.To4().String()
				}
			}
		}

		next[rec.Name] = rec
	}

	reg.mu.Lock()
	reg.records = next
	reg.mu.Unlock()
	return nil
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

// List returns a cloned snapshot of every known interface, sorted by name.
func (reg *Registry) List() []Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Record, 0, len(reg.records))
	for _, r := range reg.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a cloned record by name.
func (reg *Registry) Get(name string) (Record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.records[name]
	if !ok {
		return Record{}, false
	}
	return r.Clone(), true
}
