// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routing implements the Policy Routing Manager: atomic
// install/swap/rollback of per-interface kernel policy-routing tables.
package routing

import (
	"net"
	"sync"

	"github.com/vishvananda/netlink"

	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/errors"
)

// Surface error kinds, per the error-handling contract: these name what
// failed, not an internal type.
var (
	ErrRouteInstallFailed = errors.New(errors.KindUnavailable, "route install failed")
	ErrRuleInstallFailed  = errors.New(errors.KindUnavailable, "rule install failed")
	ErrGatewayUnknown     = errors.New(errors.KindValidation, "gateway unknown")
)

// activation records what has actually been installed for one interface,
// so rollback can undo exactly that and nothing more.
type activation struct {
	tableID       int
	gateway       net.IP
	localIP       net.IP
	routeInstalled bool
	ruleInstalled  bool
}

// Manager is the Policy Routing Manager (C5). A single reader-writer lock
// protects its activation map; Activate, Deactivate and Rollback hold it for
// the whole operation, netlink calls included, so they run one at a time.
type Manager struct {
	mu   sync.RWMutex
	nl   Netlinker
	pool *TablePool

	monitorOnly            bool
	executeCommands        bool
	interfaceTablePriority int

	activations map[string]*activation
}

// NewManager returns a Manager using the real kernel Netlinker.
func NewManager(cfg *config.RoutingConfig) *Manager {
	return NewManagerWithDeps(DefaultNetlinker, cfg)
}

// NewManagerWithDeps returns a Manager using an injected Netlinker, for
// tests and for simulation contexts.
func NewManagerWithDeps(nl Netlinker, cfg *config.RoutingConfig) *Manager {
	return &Manager{
		nl:                     nl,
		pool:                   NewTablePool(cfg.TableIDMin, cfg.TableIDMax),
		monitorOnly:            cfg.MonitorOnly,
		executeCommands:        cfg.ExecuteCommands,
		interfaceTablePriority: cfg.InterfaceTablePriority,
		activations:            make(map[string]*activation),
	}
}

// MonitorOnly reports whether the manager is currently simulating rather
// than mutating the kernel.
func (m *Manager) MonitorOnly() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitorOnly
}

// TableIDFor returns the table ID assigned to name, if it is active.
func (m *Manager) TableIDFor(name string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activations[name]
	if !ok {
		return 0, false
	}
	return a.tableID, true
}

// Activate assigns a table ID to name and installs its default route and
// source-scoped policy rule. When MonitorOnly is true, installation is
// simulated in-memory only; no OS command runs.
func (m *Manager) Activate(name string, gateway, localIP net.IP) error {
	if gateway == nil {
		return ErrGatewayUnknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.activations[name]; exists {
		return nil
	}

	id, err := m.pool.Acquire()
	if err != nil {
		return err
	}

	a := &activation{tableID: id, gateway: gateway, localIP: localIP}
	m.activations[name] = a

	if m.monitorOnly || !m.executeCommands {
		a.routeInstalled = true
		a.ruleInstalled = true
		return nil
	}

	route := &netlink.Route{Table: id, Gw: gateway}
	if err := m.nl.RouteReplace(route); err != nil {
		m.rollbackLocked(name)
		return errors.Wrap(ErrRouteInstallFailed, errors.KindUnavailable, err.Error())
	}
	a.routeInstalled = true

	rule := netlink.NewRule()
	rule.Priority = m.interfaceTablePriority
	rule.Table = id
	rule.Src = &net.IPNet{IP: localIP, Mask: net.CIDRMask(32, 32)}
	if err := m.nl.RuleAdd(rule); err != nil {
		m.rollbackLocked(name)
		return errors.Wrap(ErrRuleInstallFailed, errors.KindUnavailable, err.Error())
	}
	a.ruleInstalled = true

	return nil
}

// Deactivate removes name's policy rule and default route and releases its
// table ID. Deactivating an interface with no activation is a no-op.
func (m *Manager) Deactivate(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(name)
}

func (m *Manager) deactivateLocked(name string) error {
	a, ok := m.activations[name]
	if !ok {
		return nil
	}

	var firstErr error
	if !m.monitorOnly && m.executeCommands {
		if a.ruleInstalled {
			rule := netlink.NewRule()
			rule.Priority = m.interfaceTablePriority
			rule.Table = a.tableID
			rule.Src = &net.IPNet{IP: a.localIP, Mask: net.CIDRMask(32, 32)}
			if err := m.nl.RuleDel(rule); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if a.routeInstalled {
			route := &netlink.Route{Table: a.tableID, Gw: a.gateway}
			if err := m.nl.RouteDel(route); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	m.pool.Release(a.tableID)
	delete(m.activations, name)
	return firstErr
}

// Rollback removes whatever partial state was installed for name,
// best-effort: failures removing individual artifacts are ignored, since
// the goal is to free the table ID and leave no dangling reservation, not
// to guarantee a clean kernel state.
func (m *Manager) Rollback(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackLocked(name)
}

func (m *Manager) rollbackLocked(name string) {
	a, ok := m.activations[name]
	if !ok {
		return
	}

	if !m.monitorOnly && m.executeCommands {
		if a.ruleInstalled {
			rule := netlink.NewRule()
			rule.Priority = m.interfaceTablePriority
			rule.Table = a.tableID
			rule.Src = &net.IPNet{IP: a.localIP, Mask: net.CIDRMask(32, 32)}
			_ = m.nl.RuleDel(rule)
		}
		if a.routeInstalled {
			route := &netlink.Route{Table: a.tableID, Gw: a.gateway}
			_ = m.nl.RouteDel(route)
		}
	}

	m.pool.Release(a.tableID)
	delete(m.activations, name)
}

// Swap atomically moves the active backhaul from fromName to toName:
// toName is fully activated (additive) before fromName is torn down
// (destructive). If activation of toName fails, it is rolled back and
// fromName remains untouched. fromName may be empty, meaning "no prior
// active interface."
func (m *Manager) Swap(fromName, toName string, toGateway, toLocalIP net.IP) error {
	if err := m.Activate(toName, toGateway, toLocalIP); err != nil {
		return err
	}

	if fromName == "" || fromName == toName {
		return nil
	}

	// A deactivate failure on the outgoing interface does not undo the
	// swap: toName is already the new active interface. The caller logs
	// this and may retry deactivation on a later iteration.
	return m.Deactivate(fromName)
}
