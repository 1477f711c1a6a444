// Package routing manages host routes toward the Minikube cluster's service
// network via netlink.
package routing

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
)

// routeAPI is the subset of netlink this package uses, extracted so tests can
// substitute a fake without touching the kernel.
type routeAPI interface {
	RouteList(link netlink.Link, family int) ([]netlink.Route, error)
	RouteAdd(route *netlink.Route) error
}

type kernelRoutes struct{}

func (kernelRoutes) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	return netlink.RouteList(link, family)
}

func (kernelRoutes) RouteAdd(route *netlink.Route) error {
	return netlink.RouteAdd(route)
}

// Manager applies gateway routes idempotently.
type Manager struct {
	routes routeAPI
	logger *slog.Logger
}

// NewManager constructs a Manager backed by the kernel routing table.
func NewManager(logger *slog.Logger) *Manager {
	return newManager(kernelRoutes{}, logger)
}

func newManager(routes routeAPI, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{routes: routes, logger: logger}
}

// Ensure adds a route for the network via the gateway unless an equivalent
// route already exists. It reports whether a route was added.
func (m *Manager) Ensure(network, gateway string) (bool, error) {
	_, dst, err := net.ParseCIDR(network)
	if err != nil {
		return false, fmt.Errorf("parse route destination %q: %w", network, err)
	}
	gw := net.ParseIP(gateway)
	if gw == nil {
		return false, fmt.Errorf("parse route gateway %q", gateway)
	}

	exists, err := m.exists(dst, gw)
	if err != nil {
		return false, err
	}
	if exists {
		m.logger.Debug("route already present", slog.String("network", network), slog.String("gateway", gateway))
		return false, nil
	}

	if err := m.routes.RouteAdd(&netlink.Route{Dst: dst, Gw: gw}); err != nil {
		return false, fmt.Errorf("add route %s via %s: %w", network, gateway, err)
	}
	m.logger.Info("added route", slog.String("network", network), slog.String("gateway", gateway))
	return true, nil
}

// Exists reports whether a route for the network via the gateway is present.
func (m *Manager) Exists(network, gateway string) (bool, error) {
	_, dst, err := net.ParseCIDR(network)
	if err != nil {
		return false, fmt.Errorf("parse route destination %q: %w", network, err)
	}
	gw := net.ParseIP(gateway)
	if gw == nil {
		return false, fmt.Errorf("parse route gateway %q", gateway)
	}
	return m.exists(dst, gw)
}

// GatewayRouteCount counts routes that go through a gateway, for the topology
// summary.
func (m *Manager) GatewayRouteCount() int {
	routes, err := m.routes.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return 0
	}
	count := 0
	for _, route := range routes {
		if route.Gw != nil {
			count++
		}
	}
	return count
}

func (m *Manager) exists(dst *net.IPNet, gw net.IP) (bool, error) {
	routes, err := m.routes.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return false, fmt.Errorf("list routes: %w", err)
	}
	for _, route := range routes {
		if route.Dst == nil || route.Gw == nil {
			continue
		}
		if route.Dst.String() == dst.String() && route.Gw.Equal(gw) {
			return true, nil
		}
	}
	return false, nil
}
