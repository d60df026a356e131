// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package iface

import (
	"errors"
	"net"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"eth0", KindEthernet},
		{"eno1", KindEthernet},
		{"enp0s3", KindEthernet},
		{"ens192", KindEthernet},
		{"wlan0", KindWiFi},
		{"wlp2s0", KindWiFi},
		{"wwan0", KindLTE},
		{"ppp0", KindLTE},
		{"usb0", KindUSBTether},
		{"enx00e04c", KindUSBTether},
		{"bnep0", KindBluetoothPan},
		{"tailscale0", KindUnknown},
		{"lo", KindUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.name); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRecordCandidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantOK  bool
	}{
		{"both", Record{Carrier: true, HasIPv4: true}, true},
		{"no carrier", Record{Carrier: false, HasIPv4: true}, false},
		{"no ipv4", Record{Carrier: true, HasIPv4: false}, false},
		{"neither", Record{}, false},
	}

	for _, tt := range tests {
		if got := tt.rec.Candidate(); got != tt.wantOK {
			t.Errorf("%s: Candidate() = %v, want %v", tt.name, got, tt.wantOK)
		}
	}
}

type fakeEnumerator struct {
	links     []net.Interface
	addrs     map[string][]net.Addr
	failWith  error
}

func (f *fakeEnumerator) Interfaces() ([]net.Interface, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.links, nil
}

func (f *fakeEnumerator) Addrs(iface net.Interface) ([]net.Addr, error) {
	return f.addrs[iface.Name], nil
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func TestRegistryDiscoverPopulatesCandidates(t *testing.T) {
	fe := &fakeEnumerator{
		links: []net.Interface{
			{Name: "eth0", Flags: net.FlagUp | net.FlagRunning, MTU: 1500},
			{Name: "wlan0", Flags: net.FlagUp, MTU: 1500},
		},
		addrs: map[string][]net.Addr{
			"eth0": {&net.IPNet{IP: net.ParseIP("10.0.0.2"), Mask: mustCIDR("10.0.0.0/24").Mask}},
		},
	}

	reg := NewRegistryWithEnumerator(fe)
	if err := reg.Discover(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eth0, ok := reg.Get("eth0")
	if !ok {
		t.Fatalf("expected eth0 in registry")
	}
	if !eth0.Candidate() {
		t.Fatalf("expected eth0 to be a candidate, got %+v", eth0)
	}
	if eth0.LocalIPv4 != "10.0.0.2" {
		t.Fatalf("expected local ipv4 10.0.0.2, got %q", eth0.LocalIPv4)
	}

	wlan0, ok := reg.Get("wlan0")
	if !ok {
		t.Fatalf("expected wlan0 in registry even without carrier/ipv4")
	}
	if wlan0.Candidate() {
		t.Fatalf("expected wlan0 to not be a candidate (no carrier, no ipv4)")
	}
}

func TestRegistryDiscoverFailureReportsEmpty(t *testing.T) {
	fe := &fakeEnumerator{failWith: errors.New("enumeration failed")}
	reg := NewRegistryWithEnumerator(fe)

	// Seed with a stale record to verify it's cleared, not retained, on failure.
	_ = reg.Discover() // populates nothing since links is nil, that's fine.

	err := reg.Discover()
	if err == nil {
		t.Fatalf("expected error from Discover")
	}
	if got := reg.List(); len(got) != 0 {
		t.Fatalf("expected empty registry after enumeration failure, got %v", got)
	}
}

func TestNewRegistryInNamespaceSetsNamespace(t *testing.T) {
	reg := NewRegistryInNamespace("vrf-wan")
	if reg.namespace != "vrf-wan" {
		t.Fatalf("expected namespace to be set, got %q", reg.namespace)
	}
	if reg.enumerator == nil {
		t.Fatalf("expected the default enumerator to still be wired")
	}
}

func TestRegistryListIsClone(t *testing.T) {
	fe := &fakeEnumerator{
		links: []net.Interface{{Name: "eth0", Flags: net.FlagUp | net.FlagRunning}},
		addrs: map[string][]net.Addr{
			"eth0": {&net.IPNet{IP: net.ParseIP("10.0.0.2"), Mask: mustCIDR("10.0.0.0/24").Mask}},
		},
	}
	reg := NewRegistryWithEnumerator(fe)
	_ = reg.Discover()

	recs := reg.List()
	recs[0].Addresses[0] = "mutated"

	again, _ := reg.Get("eth0")
	if again.Addresses[0] == "mutated" {
		t.Fatalf("List() did not return an independent clone")
	}
}
