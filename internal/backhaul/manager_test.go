// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package backhaul

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"meshcore.dev/core/internal/clock"
	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/iface"
	"meshcore.dev/core/internal/lifecycle"
	"meshcore.dev/core/internal/logging"
	"meshcore.dev/core/internal/probe"
	"meshcore.dev/core/internal/routing"
)

func withMockClock(t *testing.T) *clock.MockClock {
	t.Helper()
	mc := clock.NewMockClock(time.Unix(1000, 0))
	clock.SetClock(mc)
	t.Cleanup(clock.Reset)
	return mc
}

// testConfig returns a config with zeroed holddowns, so a single RunOnce
// commits Probing -> Up immediately, and one configured probe target.
func testConfig() *config.Config {
	cfg := config.Default("node1")
	cfg.Holddown = &config.HolddownConfig{}
	cfg.Probe.Targets = []config.ProbeTarget{{Name: "t", Address: "1.1.1.1", Port: 443}}
	return cfg
}

type fakeEnumerator struct {
	links []net.Interface
	addrs map[string][]net.Addr
}

func (f fakeEnumerator) Interfaces() ([]net.Interface, error) { return f.links, nil }
func (f fakeEnumerator) Addrs(n net.Interface) ([]net.Addr, error) { return f.addrs[n.Name], nil }

func upInterface(name string) net.Interface {
	return net.Interface{Name: name, Flags: net.FlagUp | net.FlagRunning}
}

func ipv4Addrs(ip string) []net.Addr {
	return []net.Addr{&net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(24, 32)}}
}

type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

type fakeDialer struct {
	boundTo []string
	fail    bool
}

func (f *fakeDialer) DialContext(ctx context.Context, localAddr string, target probe.Target) (net.Conn, error) {
	f.boundTo = append(f.boundTo, localAddr)
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return fakeConn{}, nil
}

type fakeGatewayResolver struct{ gw net.IP }

func (f fakeGatewayResolver) DefaultGateway(name string) (net.IP, error) { return f.gw, nil }

type alwaysRequired struct{}

func (alwaysRequired) InternetRequired() bool { return true }

type neverRequired struct{}

func (neverRequired) InternetRequired() bool { return false }

func TestRunOncePicksHigherPolicyWeightInterface(t *testing.T) {
	withMockClock(t)

	enum := fakeEnumerator{
		links: []net.Interface{upInterface("eth0"), upInterface("wlan0")},
		addrs: map[string][]net.Addr{
			"eth0":  ipv4Addrs("192.168.1.2"),
			"wlan0": ipv4Addrs("192.168.2.2"),
		},
	}
	registry := iface.NewRegistryWithEnumerator(enum)
	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)
	cfg := testConfig()

	routingMgr := routing.NewManagerWithDeps(new(routing.MockNetlinker), cfg.Routing)
	m := NewManagerWithDeps(registry, prober, routingMgr, fakeGatewayResolver{}, cfg, logging.Nop())

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	snap, ok := m.CurrentBackhaul()
	if !ok {
		t.Fatalf("expected a current backhaul")
	}
	if snap.Interface != "eth0" {
		t.Fatalf("expected eth0 (higher policy weight) to win, got %s", snap.Interface)
	}
}

func TestRunOnceLiveModeInstallsRoute(t *testing.T) {
	withMockClock(t)

	enum := fakeEnumerator{
		links: []net.Interface{upInterface("eth0")},
		addrs: map[string][]net.Addr{"eth0": ipv4Addrs("192.168.1.2")},
	}
	registry := iface.NewRegistryWithEnumerator(enum)
	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)

	cfg := testConfig()
	cfg.Routing.MonitorOnly = false
	cfg.Routing.ExecuteCommands = true

	mockNL := new(routing.MockNetlinker)
	mockNL.On("RouteReplace", mock.Anything).Return(nil).Once()
	mockNL.On("RuleAdd", mock.Anything).Return(nil).Once()

	routingMgr := routing.NewManagerWithDeps(mockNL, cfg.Routing)
	m := NewManagerWithDeps(registry, prober, routingMgr, fakeGatewayResolver{gw: net.ParseIP("192.168.1.1")}, cfg, logging.Nop())

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	mockNL.AssertExpectations(t)
	if m.RouteSwapCount() != 1 {
		t.Fatalf("expected one route swap, got %d", m.RouteSwapCount())
	}

	snap, ok := m.CurrentBackhaul()
	assert.True(t, ok)
	assert.Equal(t, "eth0", snap.Interface)
}

func TestRunOnceNoCandidatesLeavesNoActiveBackhaul(t *testing.T) {
	withMockClock(t)

	registry := iface.NewRegistryWithEnumerator(fakeEnumerator{})
	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)
	cfg := testConfig()
	routingMgr := routing.NewManagerWithDeps(new(routing.MockNetlinker), cfg.Routing)
	m := NewManagerWithDeps(registry, prober, routingMgr, fakeGatewayResolver{}, cfg, logging.Nop())

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	_, ok := m.CurrentBackhaul()
	if ok {
		t.Fatalf("expected no active backhaul with zero interfaces")
	}
}

func TestEnsureKeepaliveForcesProbeWhenNotAlreadyProbed(t *testing.T) {
	withMockClock(t)

	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)
	cfg := testConfig()
	routingMgr := routing.NewManagerWithDeps(new(routing.MockNetlinker), cfg.Routing)
	m := NewManagerWithDeps(iface.NewRegistry(), prober, routingMgr, fakeGatewayResolver{}, cfg, logging.Nop())
	m.active = "eth0"
	m.SetSessionSignal(alwaysRequired{})

	records := []iface.Record{{Name: "eth0", Carrier: true, HasIPv4: true, LocalIPv4: "10.0.0.2"}}
	m.ensureKeepalive(context.Background(), records, map[string]bool{})

	if len(fd.boundTo) != 1 {
		t.Fatalf("expected one forced keepalive probe, got %d dials", len(fd.boundTo))
	}
	if m.health["eth0"] == nil || m.health["eth0"].Total != 1 {
		t.Fatalf("expected forced probe to be recorded in health")
	}
	if m.keepalive.LastKeepalive().IsZero() {
		t.Fatalf("expected keepalive to be stamped")
	}
}

func TestEnsureKeepaliveSkipsExtraProbeWhenAlreadyProbedThisTick(t *testing.T) {
	withMockClock(t)

	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)
	cfg := testConfig()
	routingMgr := routing.NewManagerWithDeps(new(routing.MockNetlinker), cfg.Routing)
	m := NewManagerWithDeps(iface.NewRegistry(), prober, routingMgr, fakeGatewayResolver{}, cfg, logging.Nop())
	m.active = "eth0"
	m.SetSessionSignal(alwaysRequired{})

	records := []iface.Record{{Name: "eth0", Carrier: true, HasIPv4: true, LocalIPv4: "10.0.0.2"}}
	m.ensureKeepalive(context.Background(), records, map[string]bool{"eth0": true})

	if len(fd.boundTo) != 0 {
		t.Fatalf("expected no extra dial when already probed this tick, got %d", len(fd.boundTo))
	}
	if m.keepalive.LastKeepalive().IsZero() {
		t.Fatalf("expected the tick to still be stamped")
	}
}

func TestEnsureKeepaliveNoopWithoutSessionRequirement(t *testing.T) {
	withMockClock(t)

	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)
	cfg := testConfig()
	routingMgr := routing.NewManagerWithDeps(new(routing.MockNetlinker), cfg.Routing)
	m := NewManagerWithDeps(iface.NewRegistry(), prober, routingMgr, fakeGatewayResolver{}, cfg, logging.Nop())
	m.active = "eth0"
	m.SetSessionSignal(neverRequired{})

	records := []iface.Record{{Name: "eth0", Carrier: true, HasIPv4: true, LocalIPv4: "10.0.0.2"}}
	m.ensureKeepalive(context.Background(), records, map[string]bool{})

	if len(fd.boundTo) != 0 {
		t.Fatalf("expected no probe when internet is not required")
	}
	if !m.keepalive.LastKeepalive().IsZero() {
		t.Fatalf("expected keepalive to remain unstamped")
	}
}

func TestRunOnceEscalatingFailuresDeactivateActiveInterface(t *testing.T) {
	withMockClock(t)

	enum := fakeEnumerator{
		links: []net.Interface{upInterface("eth0")},
		addrs: map[string][]net.Addr{"eth0": ipv4Addrs("192.168.1.2")},
	}
	registry := iface.NewRegistryWithEnumerator(enum)
	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)
	cfg := testConfig()

	mockNL := new(routing.MockNetlinker)
	mockNL.On("RouteReplace", mock.Anything).Return(nil).Once()
	mockNL.On("RuleAdd", mock.Anything).Return(nil).Once()
	mockNL.On("RuleDel", mock.Anything).Return(nil).Maybe()
	mockNL.On("RouteDel", mock.Anything).Return(nil).Maybe()
	cfg.Routing.MonitorOnly = false
	cfg.Routing.ExecuteCommands = true

	routingMgr := routing.NewManagerWithDeps(mockNL, cfg.Routing)
	m := NewManagerWithDeps(registry, prober, routingMgr, fakeGatewayResolver{gw: net.ParseIP("192.168.1.1")}, cfg, logging.Nop())

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	snap, ok := m.CurrentBackhaul()
	if !ok || snap.Interface != "eth0" {
		t.Fatalf("setup: expected eth0 active, got %+v ok=%v", snap, ok)
	}

	// Sustained probe failures escalate eth0's consecutive-failure count
	// past down_threshold (6 by default) in a handful of ticks.
	fd.fail = true
	for i := 0; i < 6; i++ {
		if err := m.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce returned error: %v", err)
		}
	}

	states := m.GetAllInterfaceStates()
	if len(states) != 1 || states[0].Lifecycle != lifecycle.StateDown {
		t.Fatalf("expected eth0 to have left Up for Down, got %+v", states)
	}

	if _, ok := m.CurrentBackhaul(); ok {
		t.Fatalf("expected no active backhaul once the only candidate went down")
	}
}

func TestGetAllInterfaceStatesReflectsDiscovery(t *testing.T) {
	withMockClock(t)

	enum := fakeEnumerator{
		links: []net.Interface{upInterface("eth0")},
		addrs: map[string][]net.Addr{"eth0": ipv4Addrs("192.168.1.2")},
	}
	registry := iface.NewRegistryWithEnumerator(enum)
	fd := &fakeDialer{}
	prober := probe.NewProberWithDialer(fd, time.Second)
	cfg := testConfig()
	routingMgr := routing.NewManagerWithDeps(new(routing.MockNetlinker), cfg.Routing)
	m := NewManagerWithDeps(registry, prober, routingMgr, fakeGatewayResolver{}, cfg, logging.Nop())

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	states := m.GetAllInterfaceStates()
	if len(states) != 1 {
		t.Fatalf("expected one interface state, got %d", len(states))
	}
	if states[0].Name != "eth0" || !states[0].Candidate {
		t.Fatalf("unexpected state: %+v", states[0])
	}
}
