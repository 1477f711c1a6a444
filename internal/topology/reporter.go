// Package topology renders a human-readable summary of the converged network:
// interfaces, bridges and their forwarding relationships, cluster routes, DNS
// configuration, and rule counts. The reporter re-probes everything itself so
// the summary reflects what is actually on the host, not what the appliers
// believe they did.
package topology

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"k8s.io/client-go/kubernetes"

	"github.com/limanet/limanet/internal/config"
	"github.com/limanet/limanet/internal/iptables"
	"github.com/limanet/limanet/internal/k8s"
	"github.com/limanet/limanet/internal/logging"
	"github.com/limanet/limanet/internal/netinfo"
	"github.com/limanet/limanet/internal/resolved"
	"github.com/limanet/limanet/internal/sysexec"
)

// RouteCounter reports how many routes go through a gateway.
type RouteCounter interface {
	GatewayRouteCount() int
}

// Reporter renders the topology summary. All access is read-only.
type Reporter struct {
	cfg    config.Config
	runner sysexec.Runner
	probe  *netinfo.Probe
	routes RouteCounter
	kube   kubernetes.Interface
	logger *slog.Logger
	out    io.Writer
}

// New constructs a Reporter. kube may be nil when no cluster is reachable.
func New(cfg config.Config, runner sysexec.Runner, probe *netinfo.Probe, routes RouteCounter, kube kubernetes.Interface, logger *slog.Logger, out io.Writer) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{cfg: cfg, runner: runner, probe: probe, routes: routes, kube: kube, logger: logger, out: out}
}

// Render probes current state and writes the summary.
func (r *Reporter) Render(ctx context.Context) error {
	logging.Section(r.out, "network topology")

	physIF := r.probe.PhysicalInterface()
	tunnel := r.cfg.TunnelInterface
	tunnelPresent := r.probe.InterfaceExists(tunnel)

	fmt.Fprintf(r.out, "Physical interface: %s\n", orUnknown(physIF))
	fmt.Fprintf(r.out, "Tunnel interface:   %s (%s)\n\n", tunnel, presence(tunnelPresent))

	minikube, err := r.probe.Minikube(ctx, r.cfg.MinikubeFilter)
	if err != nil {
		return err
	}
	if minikube != nil && r.kube != nil {
		minikube.ServiceCIDR = k8s.ServiceCIDR(ctx, r.kube, r.logger)
	}

	bridges, err := r.probe.Bridges(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out, "Docker bridges:")
	if len(bridges) == 0 {
		fmt.Fprintln(r.out, "  (none)")
	}
	for _, bridge := range bridges {
		r.renderBridge(ctx, bridge, physIF, tunnel, tunnelPresent, minikube)
	}
	fmt.Fprintln(r.out)

	if minikube != nil && minikube.ServiceCIDR != "" {
		fmt.Fprintln(r.out, "Minikube routes:")
		fmt.Fprintf(r.out, "  service CIDR %s via %s\n\n", minikube.ServiceCIDR, minikube.ContainerIP)
	}

	r.renderDNS()
	r.renderCounts(ctx)
	return nil
}

func (r *Reporter) renderBridge(ctx context.Context, bridge netinfo.Bridge, physIF, tunnel string, tunnelPresent bool, minikube *netinfo.Minikube) {
	isMinikube := minikube != nil && bridge.Name == minikube.BridgeName

	tag := ""
	if isMinikube {
		tag = " [minikube]"
	}
	internal := !isMinikube && r.internalCommunicationConfigured(ctx, bridge.Name)
	if internal {
		tag += " [intra-subnet]"
	}
	fmt.Fprintf(r.out, "  %s%s\n", bridge, tag)

	if internal {
		fmt.Fprintf(r.out, "    -> %s (intra-subnet)\n", bridge.Name)
	}
	if physIF != "" {
		fmt.Fprintf(r.out, "    -> %s (external)\n", physIF)
	}
	if minikube != nil && !isMinikube {
		fmt.Fprintf(r.out, "    -> %s (minikube)\n", minikube.BridgeName)
	}
	if tunnelPresent {
		fmt.Fprintf(r.out, "    -> %s (host)\n", tunnel)
	}
}

// internalCommunicationConfigured checks all three intra-subnet rules live,
// bypassing any cache.
func (r *Reporter) internalCommunicationConfigured(ctx context.Context, bridge string) bool {
	specs := [][]string{
		{"-i", bridge, "-o", bridge, "-j", "ACCEPT"},
		{"-i", bridge, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"},
		{"-o", bridge, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"},
	}
	for _, spec := range specs {
		if !iptables.RuleExists(ctx, r.runner, "filter", "FORWARD", spec) {
			return false
		}
	}
	return true
}

func (r *Reporter) renderDNS() {
	dns, domains, err := resolved.ReadDropIn(r.cfg.DNSConfPath)
	if err != nil {
		return
	}
	fmt.Fprintln(r.out, "DNS configuration:")
	if dns != "" {
		fmt.Fprintf(r.out, "  server: %s\n", dns)
	}
	if domains != "" {
		fmt.Fprintf(r.out, "  search domain: %s\n", domains)
	}
	fmt.Fprintln(r.out)
}

func (r *Reporter) renderCounts(ctx context.Context) {
	forward, err := iptables.ListRules(ctx, r.runner, "filter", "FORWARD")
	if err != nil {
		r.logger.Warn("could not count FORWARD rules", slog.Any("error", err))
	}
	nat, err := iptables.ListRules(ctx, r.runner, "nat", "POSTROUTING")
	if err != nil {
		r.logger.Warn("could not count POSTROUTING rules", slog.Any("error", err))
	}

	fmt.Fprintln(r.out, "Rule and route counts:")
	fmt.Fprintf(r.out, "  FORWARD rules:  %d\n", len(forward))
	fmt.Fprintf(r.out, "  NAT rules:      %d\n", len(nat))
	fmt.Fprintf(r.out, "  gateway routes: %d\n", r.routes.GatewayRouteCount())
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}

func presence(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}
