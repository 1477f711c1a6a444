package netinfo

import (
	"github.com/vishvananda/netlink"
)

// LinkProber answers interface-level questions about the host.
type LinkProber interface {
	// Exists reports whether a network interface with the given name exists.
	Exists(name string) bool
	// DefaultRouteInterface returns the device carrying the IPv4 default
	// route, or an empty string when there is none.
	DefaultRouteInterface() string
	// LinkNames returns the names of all host interfaces.
	LinkNames() ([]string, error)
}

// NetlinkProber implements LinkProber against the kernel via netlink. Lookups
// are cached for the lifetime of the prober, which matches a single run.
type NetlinkProber struct {
	exists map[string]bool
}

// NewLinkProber constructs a NetlinkProber with an empty cache.
func NewLinkProber() *NetlinkProber {
	return &NetlinkProber{exists: make(map[string]bool)}
}

// Exists reports whether the named link is present, caching the answer.
func (p *NetlinkProber) Exists(name string) bool {
	if found, ok := p.exists[name]; ok {
		return found
	}
	_, err := netlink.LinkByName(name)
	p.exists[name] = err == nil
	return p.exists[name]
}

// DefaultRouteInterface resolves the default route's output device.
func (p *NetlinkProber) DefaultRouteInterface() string {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return ""
	}
	for _, route := range routes {
		if route.Dst != nil {
			continue
		}
		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			continue
		}
		return link.Attrs().Name
	}
	return ""
}

// LinkNames lists the names of every interface on the host.
func (p *NetlinkProber) LinkNames() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(links))
	for _, link := range links {
		names = append(names, link.Attrs().Name)
	}
	return names, nil
}
