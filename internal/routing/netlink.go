// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routing

import (
	"github.com/vishvananda/netlink"
)

// Netlinker abstracts the subset of netlink route/rule operations the
// Policy Routing Manager needs, so Manager can be exercised in tests
// without a real kernel.
type Netlinker interface {
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error
}

// RealNetlinker is the production Netlinker, backed directly by
// github.com/vishvananda/netlink.
type RealNetlinker struct{}

func (RealNetlinker) RouteReplace(route *netlink.Route) error { return netlink.RouteReplace(route) }
func (RealNetlinker) RouteDel(route *netlink.Route) error     { return netlink.RouteDel(route) }
func (RealNetlinker) RuleAdd(rule *netlink.Rule) error         { return netlink.RuleAdd(rule) }
func (RealNetlinker) RuleDel(rule *netlink.Rule) error          { return netlink.RuleDel(rule) }

// DefaultNetlinker is the Netlinker used by NewManager.
var DefaultNetlinker Netlinker = RealNetlinker{}
