// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routing

import (
	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
)

// MockNetlinker is a testify mock implementation of Netlinker, used by
// Manager's tests to assert the exact sequence of route/rule operations
// without touching a real kernel.
type MockNetlinker struct {
	mock.Mock
}

func (m *MockNetlinker) RouteReplace(route *netlink.Route) error {
	args := m.Called(route)
	return args.Error(0)
}

func (m *MockNetlinker) RouteDel(route *netlink.Route) error {
	args := m.Called(route)
	return args.Error(0)
}

func (m *MockNetlinker) RuleAdd(rule *netlink.Rule) error {
	args := m.Called(rule)
	return args.Error(0)
}

func (m *MockNetlinker) RuleDel(rule *netlink.Rule) error {
	args := m.Called(rule)
	return args.Error(0)
}
