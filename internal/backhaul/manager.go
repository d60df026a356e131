// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package backhaul implements the Backhaul Manager (C6): the orchestrator
// that runs interface discovery, health probing, lifecycle transitions,
// scoring, and policy-route swaps as one management loop, plus the
// Hardware Keepalive contract (C7).
package backhaul

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sync/errgroup"

	"meshcore.dev/core/internal/clock"
	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/errors"
	"meshcore.dev/core/internal/iface"
	"meshcore.dev/core/internal/lifecycle"
	"meshcore.dev/core/internal/logging"
	"meshcore.dev/core/internal/probe"
	"meshcore.dev/core/internal/routing"
	"meshcore.dev/core/internal/score"
)

// maxConcurrentProbes bounds how many interface x target probes run at
// once within a single management-loop iteration.
const maxConcurrentProbes = 8

// SessionSignal is the read-only view the management loop needs of the
// Session Registry (C10): whether any active session currently requires
// internet egress. It is an interface rather than a direct dependency on
// the mesh package so the two can be wired together at the entrypoint
// without a package cycle.
type SessionSignal interface {
	InternetRequired() bool
}

// GatewayResolver discovers the next-hop gateway the kernel currently holds
// for a given interface, so the Policy Routing Manager (C5) has something
// concrete to install a route against.
type GatewayResolver interface {
	DefaultGateway(name string) (net.IP, error)
}

// NetlinkGatewayResolver reads the kernel's own route table via
// github.com/vishvananda/netlink.
type NetlinkGatewayResolver struct{}

func (NetlinkGatewayResolver) DefaultGateway(name string) (net.IP, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "link lookup failed")
	}

	routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "route list failed")
	}

	for _, r := range routes {
		if r.Gw != nil {
			return r.Gw, nil
		}
	}
	return nil, errors.New(errors.KindUnavailable, "no gateway route for interface")
}

// InterfaceState is one interface's fully-derived status, as exposed by
// GetAllInterfaceStates.
type InterfaceState struct {
	Name      string
	Kind      iface.Kind
	Lifecycle lifecycle.State
	Health    probe.Health
	Score     uint32
	Candidate bool
}

// Snapshot is the active-backhaul value exposed by CurrentBackhaul.
type Snapshot struct {
	Interface string
	State     lifecycle.State
	Score     uint32
}

// Manager is the Backhaul Manager (C6). A single reader-writer lock
// protects its per-interface state; the management loop is the sole writer.
type Manager struct {
	mu sync.RWMutex

	registry   *iface.Registry
	prober     *probe.Prober
	routingMgr *routing.Manager
	gatewayRes GatewayResolver
	sessionSig SessionSignal
	logger     *logging.Logger

	probeCfg    *config.ProbeConfig
	scoringCfg  *config.ScoringConfig
	holddowns   lifecycle.Holddowns
	monitorOnly bool

	machines map[string]*lifecycle.Machine
	health   map[string]*probe.Health

	active      string
	activeScore uint32

	keepalive  *KeepaliveTracker
	lastIterAt time.Time
	routeSwaps atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager returns a Manager wired to the real OS interface registry,
// bind-before-connect prober, and kernel policy-routing manager.
func NewManager(cfg *config.Config, logger *logging.Logger) *Manager {
	registry := iface.NewRegistry()
	if cfg.NetworkNamespace != "" {
		registry = iface.NewRegistryInNamespace(cfg.NetworkNamespace)
	}
	return NewManagerWithDeps(
		registry,
		probe.NewProber(cfg.Probe.Timeout()),
		routing.NewManager(cfg.Routing),
		NetlinkGatewayResolver{},
		cfg,
		logger,
	)
}

// NewManagerWithDeps returns a Manager with every collaborator injected,
// for tests and simulation contexts.
func NewManagerWithDeps(registry *iface.Registry, prober *probe.Prober, routingMgr *routing.Manager, gatewayRes GatewayResolver, cfg *config.Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		registry:    registry,
		prober:      prober,
		routingMgr:  routingMgr,
		gatewayRes:  gatewayRes,
		logger:      logger,
		probeCfg:    cfg.Probe,
		scoringCfg:  cfg.Scoring,
		holddowns:   holddownsFromConfig(cfg.Holddown),
		monitorOnly: cfg.Routing.MonitorOnly,
		machines:    make(map[string]*lifecycle.Machine),
		health:      make(map[string]*probe.Health),
		keepalive:   NewKeepaliveTracker(time.Duration(cfg.Keepalive.IntervalSecs) * time.Second),
	}
}

func holddownsFromConfig(h *config.HolddownConfig) lifecycle.Holddowns {
	return lifecycle.Holddowns{
		ProbingToUp:      time.Duration(h.ProbingToUpSecs) * time.Second,
		UpToDegraded:     time.Duration(h.UpToDegradedSecs) * time.Second,
		DegradedToDown:   time.Duration(h.DegradedToDownSecs) * time.Second,
		DownToProbing:    time.Duration(h.DownToProbingSecs) * time.Second,
		MinStateDuration: time.Duration(h.MinStateDurationSecs) * time.Second,
	}
}

// SetSessionSignal wires the Session Registry's internet-required signal
// into the management loop. Left unset, the keepalive contract never fires.
func (m *Manager) SetSessionSignal(s SessionSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionSig = s
}

// Start launches the management loop as a background goroutine, ticking at
// the configured probe interval until ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	interval := m.probeCfg.Interval()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := m.RunOnce(loopCtx); err != nil {
				m.logger.Warn("management loop iteration failed", "error", err)
			}
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the management loop, waits for its current iteration to
// return, and — if not in monitor-only mode — deactivates whatever
// interface is currently active, so no stale policy route survives the
// process.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	active := m.active
	monitorOnly := m.monitorOnly
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	if active != "" && !monitorOnly {
		if err := m.routingMgr.Deactivate(active); err != nil {
			m.logger.Warn("deactivate on shutdown failed", "interface", active, "error", err)
		}
	}
}

// RunOnce executes a single management-loop iteration: refresh discovery,
// probe every candidate interface with bounded concurrency, drive the
// lifecycle machines, satisfy the keepalive contract, then rescore and
// swap the active interface if warranted.
func (m *Manager) RunOnce(ctx context.Context) error {
	if err := m.registry.Discover(); err != nil {
		m.logger.Warn("interface discovery failed, continuing with empty set", "error", err)
	}
	records := m.registry.List()

	probed := m.probeBatch(ctx, records)
	m.driveLifecycle(records)
	m.ensureKeepalive(ctx, records, probed)

	err := m.selectAndSwap(records)

	m.mu.Lock()
	m.lastIterAt = clock.Now()
	m.mu.Unlock()

	return err
}

func (m *Manager) probeTargets() []probe.Target {
	out := make([]probe.Target, 0, len(m.probeCfg.Targets))
	for _, t := range m.probeCfg.Targets {
		out = append(out, probe.Target{Name: t.Name, Address: t.Address, Port: t.Port})
	}
	return out
}

// probeBatch runs one probe per candidate-interface x target pair, bounded
// to maxConcurrentProbes in flight, and folds every result into that
// interface's rolling Health. It reports which interfaces were actually
// probed this tick.
func (m *Manager) probeBatch(ctx context.Context, records []iface.Record) map[string]bool {
	targets := m.probeTargets()
	probed := make(map[string]bool)
	if len(targets) == 0 {
		return probed
	}

	var probedMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for _, rec := range records {
		if !rec.Candidate() {
			continue
		}
		rec := rec
		for _, tgt := range targets {
			tgt := tgt
			g.Go(func() error {
				res := m.prober.Probe(gctx, rec.LocalIPv4, tgt)
				m.recordHealth(rec.Name, res)
				probedMu.Lock()
				probed[rec.Name] = true
				probedMu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return probed
}

func (m *Manager) recordHealth(name string, res probe.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[name]
	if !ok {
		h = &probe.Health{}
		m.health[name] = h
	}
	h.Record(res)
}

// driveLifecycle feeds each interface's lifecycle machine the event implied
// by its carrier flag and current health, then commits any transition whose
// holddown has elapsed. Interfaces absent from this cycle's discovery are
// pruned, since their machine and health counters no longer describe a real
// interface.
func (m *Manager) driveLifecycle(records []iface.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.Name] = true

		mach, ok := m.machines[rec.Name]
		if !ok {
			mach = lifecycle.NewMachine(rec.Name, m.holddowns)
			m.machines[rec.Name] = mach
		}

		if !rec.Carrier {
			mach.Feed(lifecycle.EventCarrierLost)
			mach.Commit()
			continue
		}

		h := m.health[rec.Name]
		if h == nil {
			mach.Commit()
			continue
		}

		switch {
		case h.ConsecutiveFailure >= uint64(m.probeCfg.DownThreshold):
			mach.Feed(lifecycle.EventHealthBad)
		case h.ConsecutiveFailure >= uint64(m.probeCfg.DegradedThreshold):
			mach.Feed(lifecycle.EventHealthDegraded)
		default:
			mach.Feed(lifecycle.EventHealthGood)
		}
		mach.Commit()
	}

	for name := range m.machines {
		if !seen[name] {
			delete(m.machines, name)
			delete(m.health, name)
		}
	}
}

// ensureKeepalive implements C7: while a session requires internet egress,
// the active interface must see a probe at least once per keepalive
// interval. A probe that already traversed it this tick satisfies the
// contract; otherwise one extra directed probe is forced.
func (m *Manager) ensureKeepalive(ctx context.Context, records []iface.Record, probed map[string]bool) {
	m.mu.RLock()
	sig := m.sessionSig
	active := m.active
	m.mu.RUnlock()

	if sig == nil || !sig.InternetRequired() || active == "" {
		return
	}

	now := clock.Now()
	if probed[active] {
		m.keepalive.Tick(now)
		return
	}
	if !m.keepalive.Tick(now) {
		return
	}

	for _, rec := range records {
		if rec.Name != active {
			continue
		}
		if !rec.Candidate() {
			return
		}
		targets := m.probeTargets()
		if len(targets) == 0 {
			return
		}
		res := m.prober.Probe(ctx, rec.LocalIPv4, targets[0])
		m.recordHealth(active, res)
		return
	}
}

// selectAndSwap computes the winning Up-state interface and, if it differs
// from the currently active one, activates it before deactivating the
// outgoing interface (C5's additive-before-destructive guarantee). In
// monitor_only mode the active pointer still tracks the logical winner, but
// no kernel command ever runs.
func (m *Manager) selectAndSwap(records []iface.Record) error {
	m.mu.Lock()
	kindByName := make(map[string]iface.Kind, len(records))
	recByName := make(map[string]iface.Record, len(records))
	for _, rec := range records {
		kindByName[rec.Name] = rec.Kind
		recByName[rec.Name] = rec
	}

	var candidates []score.Ranked
	for name, mach := range m.machines {
		if mach.State() != lifecycle.StateUp {
			continue
		}
		h := m.health[name]
		if h == nil {
			continue
		}
		candidates = append(candidates, score.Ranked{
			Name:  name,
			Score: score.Score(*h, kindByName[name], m.scoringCfg),
		})
	}

	winner, found := score.Winner(candidates)
	prevActive := m.active
	monitorOnly := m.monitorOnly
	m.mu.Unlock()

	if !found {
		m.mu.Lock()
		m.active = ""
		m.activeScore = 0
		m.mu.Unlock()

		if prevActive != "" && !monitorOnly {
			if err := m.routingMgr.Deactivate(prevActive); err != nil {
				m.logger.Warn("deactivate failed", "interface", prevActive, "error", err)
			}
		}
		return nil
	}

	if winner.Name == prevActive {
		m.mu.Lock()
		m.activeScore = winner.Score
		m.mu.Unlock()
		return nil
	}

	if monitorOnly {
		m.mu.Lock()
		m.active = winner.Name
		m.activeScore = winner.Score
		m.mu.Unlock()
		return nil
	}

	rec, ok := recByName[winner.Name]
	if !ok {
		return nil
	}

	gw, err := m.gatewayRes.DefaultGateway(winner.Name)
	if err != nil {
		m.logger.Warn("could not resolve gateway, deferring swap", "interface", winner.Name, "error", err)
		return err
	}
	localIP := net.ParseIP(rec.LocalIPv4)

	if err := m.routingMgr.Swap(prevActive, winner.Name, gw, localIP); err != nil {
		m.logger.Warn("route swap failed", "from", prevActive, "to", winner.Name, "error", err)
		return err
	}

	m.routeSwaps.Add(1)
	m.mu.Lock()
	m.active = winner.Name
	m.activeScore = winner.Score
	m.mu.Unlock()
	m.logger.Info("active backhaul changed", "from", prevActive, "to", winner.Name, "score", winner.Score)
	return nil
}

// CurrentBackhaul returns the active-backhaul snapshot, or ok=false when no
// interface is currently eligible.
func (m *Manager) CurrentBackhaul() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return Snapshot{}, false
	}

	state := lifecycle.StateUp
	if mach, ok := m.machines[m.active]; ok {
		state = mach.State()
	}
	return Snapshot{Interface: m.active, State: state, Score: m.activeScore}, true
}

// GetAllInterfaceStates returns a fully-derived snapshot of every currently
// discovered interface, sorted by name.
func (m *Manager) GetAllInterfaceStates() []InterfaceState {
	records := m.registry.List()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]InterfaceState, 0, len(records))
	for _, rec := range records {
		var st lifecycle.State
		if mach, ok := m.machines[rec.Name]; ok {
			st = mach.State()
		}
		var h probe.Health
		if hp, ok := m.health[rec.Name]; ok {
			h = *hp
		}
		out = append(out, InterfaceState{
			Name:      rec.Name,
			Kind:      rec.Kind,
			Lifecycle: st,
			Health:    h,
			Score:     score.Score(h, rec.Kind, m.scoringCfg),
			Candidate: rec.Candidate(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RouteSwapCount returns the number of times the management loop has
// performed an atomic route swap, for the metrics exporter (C12).
func (m *Manager) RouteSwapCount() uint64 {
	return m.routeSwaps.Load()
}

// LastIteration returns the time the most recent management-loop iteration
// completed, for the /healthz liveness check.
func (m *Manager) LastIteration() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastIterAt
}
