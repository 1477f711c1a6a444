package routing

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/vishvananda/netlink"
)

type fakeRoutes struct {
	routes  []netlink.Route
	added   []*netlink.Route
	listErr error
	addErr  error
}

func (f *fakeRoutes) RouteList(netlink.Link, int) ([]netlink.Route, error) {
	return f.routes, f.listErr
}

func (f *fakeRoutes) RouteAdd(route *netlink.Route) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, route)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustCIDR(t *testing.T, cidr string) *net.IPNet {
	t.Helper()
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		t.Fatal(err)
	}
	return ipnet
}

func TestEnsureAddsMissingRoute(t *testing.T) {
	t.Parallel()

	fake := &fakeRoutes{}
	m := newManager(fake, discardLogger())

	added, err := m.Ensure("10.96.0.0/16", "192.168.49.2")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if !added {
		t.Fatal("added = false for a missing route")
	}
	if len(fake.added) != 1 {
		t.Fatalf("RouteAdd called %d times, want 1", len(fake.added))
	}
	route := fake.added[0]
	if route.Dst.String() != "10.96.0.0/16" {
		t.Fatalf("route Dst = %v", route.Dst)
	}
	if !route.Gw.Equal(net.ParseIP("192.168.49.2")) {
		t.Fatalf("route Gw = %v", route.Gw)
	}
}

func TestEnsureSkipsExistingRoute(t *testing.T) {
	t.Parallel()

	fake := &fakeRoutes{
		routes: []netlink.Route{
			{Dst: mustCIDR(t, "10.96.0.0/16"), Gw: net.ParseIP("192.168.49.2")},
		},
	}
	m := newManager(fake, discardLogger())

	added, err := m.Ensure("10.96.0.0/16", "192.168.49.2")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if added {
		t.Fatal("added = true for an existing route")
	}
	if len(fake.added) != 0 {
		t.Fatal("RouteAdd called for an existing route")
	}
}

func TestEnsureRejectsBadInput(t *testing.T) {
	t.Parallel()

	m := newManager(&fakeRoutes{}, discardLogger())

	if _, err := m.Ensure("not-a-cidr", "192.168.49.2"); err == nil {
		t.Fatal("expected error for invalid network")
	}
	if _, err := m.Ensure("10.96.0.0/16", "not-an-ip"); err == nil {
		t.Fatal("expected error for invalid gateway")
	}
}

func TestGatewayRouteCount(t *testing.T) {
	t.Parallel()

	fake := &fakeRoutes{
		routes: []netlink.Route{
			{Dst: mustCIDR(t, "10.96.0.0/16"), Gw: net.ParseIP("192.168.49.2")},
			{Dst: mustCIDR(t, "172.17.0.0/16")},
			{Gw: net.ParseIP("192.168.5.1")},
		},
	}
	m := newManager(fake, discardLogger())

	if got := m.GatewayRouteCount(); got != 2 {
		t.Fatalf("GatewayRouteCount = %d, want 2", got)
	}
}
