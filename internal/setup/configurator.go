// Package setup sequences the idempotent configuration steps that make
// Docker bridge networks, the Minikube cluster, and the outside world
// reachable from a Lima VM. Steps run in a fixed order; each one checks its
// own preconditions and skips with a warning when they are absent, so a
// partially provisioned host still converges on re-run.
package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"k8s.io/client-go/kubernetes"

	"github.com/limanet/limanet/internal/config"
	"github.com/limanet/limanet/internal/iptables"
	"github.com/limanet/limanet/internal/k8s"
	"github.com/limanet/limanet/internal/logging"
	"github.com/limanet/limanet/internal/metrics"
	"github.com/limanet/limanet/internal/netinfo"
	"github.com/limanet/limanet/internal/sysexec"
)

// requiredCommands must be on PATH before any step runs.
var requiredCommands = []string{"docker", "iptables", "ip"}

var bridgeNamePattern = regexp.MustCompile(`br-[a-f0-9]+`)

// RouteEnsurer applies idempotent gateway routes.
type RouteEnsurer interface {
	Ensure(network, gateway string) (bool, error)
}

// DockerConfigurer converges the Docker daemon's iptables setting.
type DockerConfigurer interface {
	EnsureIptablesDisabled(ctx context.Context) error
}

// DNSConfigurer manages the systemd-resolved cluster DNS drop-in.
type DNSConfigurer interface {
	Active(ctx context.Context) bool
	EnsureClusterDNS(ctx context.Context, dnsIP string) (bool, error)
}

// Deps carries the components the configurator drives. Kube may be nil when
// no kubeconfig is usable; every cluster-dependent step then skips.
type Deps struct {
	Runner    sysexec.Runner
	Probe     *netinfo.Probe
	Batcher   *iptables.Batcher
	Routes    RouteEnsurer
	Dockerd   DockerConfigurer
	Resolved  DNSConfigurer
	Kube      kubernetes.Interface
	Collector *metrics.Collector
	Logger    *slog.Logger
	Out       io.Writer
}

// Configurator probes system state once and applies the configuration steps.
type Configurator struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	out    io.Writer

	physIF   string
	bridges  []netinfo.Bridge
	minikube *netinfo.Minikube
}

// New constructs a Configurator.
func New(cfg config.Config, deps Deps) *Configurator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := deps.Out
	if out == nil {
		out = os.Stdout
	}
	return &Configurator{cfg: cfg, deps: deps, logger: logger, out: out}
}

// Run executes the full sequence. Only prerequisite failures, Docker daemon
// problems, route mutations, and resolver restarts abort the run; individual
// rule failures are logged and skipped.
func (c *Configurator) Run(ctx context.Context) error {
	c.section("limanet: Lima VM network configuration")

	if err := c.checkPrerequisites(ctx); err != nil {
		return err
	}

	c.section("1. docker daemon iptables configuration")
	if err := c.deps.Dockerd.EnsureIptablesDisabled(ctx); err != nil {
		return err
	}

	if err := c.enableIPForward(ctx); err != nil {
		return err
	}

	if err := c.collectState(ctx); err != nil {
		return err
	}

	steps := []struct {
		title string
		apply func(context.Context) error
	}{
		{title: "2. bridge NAT and outbound forwarding", apply: c.configureBridgeNAT},
		{title: "3. tunnel forwarding", apply: c.configureTunnelForwarding},
		{title: "4. minikube service routes", apply: c.configureMinikubeRoutes},
		{title: "5. minikube cluster DNS", apply: c.configureMinikubeDNS},
		{title: "6. bridge to minikube forwarding", apply: c.configureBridgesToMinikube},
		{title: "7. bridge internal communication", apply: c.configureBridgeInternal},
		{title: "8. stale rule audit", apply: c.auditStaleRules},
	}
	for _, step := range steps {
		c.section(step.title)
		if err := step.apply(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Bridges exposes the probed bridge list for reporting.
func (c *Configurator) Bridges() []netinfo.Bridge {
	return c.bridges
}

func (c *Configurator) checkPrerequisites(ctx context.Context) error {
	for _, command := range requiredCommands {
		if !sysexec.CommandExists(command) {
			return fmt.Errorf("required command %q not found on PATH", command)
		}
	}
	if !sysexec.IsRoot() && !sysexec.SudoUsable(ctx) {
		return fmt.Errorf("root or passwordless sudo is required")
	}
	return nil
}

func (c *Configurator) enableIPForward(ctx context.Context) error {
	out, err := c.deps.Runner.Output(ctx, "sysctl", "-n", "net.ipv4.ip_forward")
	if err != nil {
		return fmt.Errorf("read ip_forward: %w", err)
	}
	if strings.TrimSpace(out) == "1" {
		return nil
	}

	c.logger.Info("enabling IP forwarding")
	if err := c.deps.Runner.Privileged(ctx, "sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
		return fmt.Errorf("enable ip_forward: %w", err)
	}
	return nil
}

// collectState probes the host once. Failure listing Docker networks means
// the daemon is unreachable and aborts the run; everything else degrades to
// an absent feature.
func (c *Configurator) collectState(ctx context.Context) error {
	c.physIF = c.deps.Probe.PhysicalInterface()

	bridges, err := c.deps.Probe.Bridges(ctx)
	if err != nil {
		return err
	}
	c.bridges = bridges
	if c.deps.Collector != nil {
		c.deps.Collector.SetBridgeCount(len(bridges))
	}

	minikube, err := c.deps.Probe.Minikube(ctx, c.cfg.MinikubeFilter)
	if err != nil {
		return err
	}
	c.minikube = minikube
	if c.minikube != nil && c.deps.Kube != nil {
		c.minikube.ServiceCIDR = k8s.ServiceCIDR(ctx, c.deps.Kube, c.logger)
	}

	c.logger.Debug("collected network state",
		slog.String("physical_interface", c.physIF),
		slog.Int("bridges", len(c.bridges)),
		slog.Bool("minikube", c.minikube != nil),
	)
	return nil
}

func (c *Configurator) configureBridgeNAT(ctx context.Context) error {
	if c.physIF == "" {
		c.logger.Warn("cannot determine physical interface, skipping")
		return nil
	}
	if len(c.bridges) == 0 {
		c.logger.Warn("no docker bridges found, skipping")
		return nil
	}

	c.logger.Info("physical interface", slog.String("interface", c.physIF))
	for _, bridge := range c.bridges {
		c.logger.Info("configuring bridge", slog.String("bridge", bridge.Name), slog.String("subnet", bridge.Subnet))
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", bridge.Name, "-o", c.physIF, "-j", "ACCEPT"}})
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", c.physIF, "-o", bridge.Name, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}})
		c.deps.Batcher.Queue(iptables.Rule{Table: "nat", Chain: "POSTROUTING",
			Spec: []string{"-s", bridge.Subnet, "-o", c.physIF, "-j", "MASQUERADE"}})
	}
	return c.commitBatch(ctx)
}

func (c *Configurator) configureTunnelForwarding(ctx context.Context) error {
	tunnel := c.cfg.TunnelInterface
	if !c.deps.Probe.InterfaceExists(tunnel) {
		c.logger.Warn("tunnel interface not present, skipping", slog.String("interface", tunnel))
		return nil
	}
	if len(c.bridges) == 0 {
		c.logger.Warn("no docker bridges found, skipping")
		return nil
	}

	for _, bridge := range c.bridges {
		c.logger.Info("configuring tunnel forwarding", slog.String("tunnel", tunnel), slog.String("bridge", bridge.Name))
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", tunnel, "-o", bridge.Name, "-j", "ACCEPT"}})
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", bridge.Name, "-o", tunnel, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}})
	}
	return c.commitBatch(ctx)
}

func (c *Configurator) configureMinikubeRoutes(_ context.Context) error {
	if c.minikube == nil {
		c.logger.Warn("no running minikube container, skipping routes")
		return nil
	}
	if c.minikube.ServiceCIDR == "" {
		c.logger.Warn("could not determine kubernetes service CIDR, skipping routes")
		return nil
	}

	c.logger.Info("minikube container", slog.String("ip", c.minikube.ContainerIP), slog.String("service_cidr", c.minikube.ServiceCIDR))
	added, err := c.deps.Routes.Ensure(c.minikube.ServiceCIDR, c.minikube.ContainerIP)
	if err != nil {
		return err
	}
	if added && c.deps.Collector != nil {
		c.deps.Collector.AddRoute()
	}
	return nil
}

func (c *Configurator) configureMinikubeDNS(ctx context.Context) error {
	if c.minikube == nil {
		c.logger.Warn("no running minikube container, skipping DNS")
		return nil
	}
	if c.deps.Kube == nil {
		c.logger.Warn("no usable kubeconfig, skipping DNS")
		return nil
	}

	dnsIP := k8s.DNSServiceIP(ctx, c.deps.Kube, c.logger)
	if dnsIP == "" {
		c.logger.Warn("could not resolve cluster DNS service IP, skipping DNS")
		return nil
	}
	c.logger.Info("cluster DNS service", slog.String("ip", dnsIP))

	if !c.deps.Resolved.Active(ctx) {
		c.logger.Warn("systemd-resolved is not running, skipping DNS")
		return nil
	}

	_, err := c.deps.Resolved.EnsureClusterDNS(ctx, dnsIP)
	return err
}

func (c *Configurator) configureBridgesToMinikube(ctx context.Context) error {
	if c.minikube == nil {
		c.logger.Warn("no running minikube container, skipping")
		return nil
	}
	if len(c.bridges) == 0 {
		c.logger.Warn("no docker bridges found, skipping")
		return nil
	}

	c.logger.Info("minikube bridge", slog.String("bridge", c.minikube.BridgeName))
	for _, bridge := range c.bridges {
		if bridge.Name == c.minikube.BridgeName {
			continue
		}
		c.logger.Info("connecting bridge to minikube", slog.String("bridge", bridge.Name))
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", bridge.Name, "-o", c.minikube.BridgeName, "-j", "ACCEPT"}})
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", c.minikube.BridgeName, "-o", bridge.Name, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}})
	}
	return c.commitBatch(ctx)
}

// configureBridgeInternal allows traffic within each non-Minikube bridge's
// own subnet. Minikube manages its own bridge rules, so its bridge is never
// touched here.
func (c *Configurator) configureBridgeInternal(ctx context.Context) error {
	if len(c.bridges) == 0 {
		c.logger.Warn("no docker bridges found, skipping")
		return nil
	}

	for _, bridge := range c.bridges {
		if c.minikube != nil && bridge.Name == c.minikube.BridgeName {
			c.logger.Debug("skipping minikube bridge", slog.String("bridge", bridge.Name))
			continue
		}
		c.logger.Info("configuring intra-bridge forwarding", slog.String("bridge", bridge.Name), slog.String("subnet", bridge.Subnet))
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", bridge.Name, "-o", bridge.Name, "-j", "ACCEPT"}})
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-i", bridge.Name, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}})
		c.deps.Batcher.Queue(iptables.Rule{Table: "filter", Chain: "FORWARD",
			Spec: []string{"-o", bridge.Name, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}})
	}
	return c.commitBatch(ctx)
}

// auditStaleRules flags FORWARD and POSTROUTING rules that reference bridge
// interfaces no longer present on the host. Detection only; nothing is
// removed.
func (c *Configurator) auditStaleRules(ctx context.Context) error {
	names, err := c.deps.Probe.LinkNames()
	if err != nil {
		c.logger.Warn("could not list host interfaces, skipping audit", slog.Any("error", err))
		return nil
	}

	present := make(map[string]bool)
	for _, name := range names {
		if bridgeNamePattern.MatchString(name) {
			present[name] = true
		}
	}

	chains := []iptables.ChainKey{
		{Table: "filter", Chain: "FORWARD"},
		{Table: "nat", Chain: "POSTROUTING"},
	}
	for _, key := range chains {
		rules, err := iptables.ListRules(ctx, c.deps.Runner, key.Table, key.Chain)
		if err != nil {
			c.logger.Warn("could not list chain for audit",
				slog.String("table", key.Table), slog.String("chain", key.Chain), slog.Any("error", err))
			continue
		}
		for _, rule := range rules {
			for _, bridge := range bridgeNamePattern.FindAllString(rule, -1) {
				if !present[bridge] {
					c.logger.Warn("rule references missing bridge",
						slog.String("bridge", bridge), slog.String("rule", strings.TrimSpace(rule)))
				}
			}
		}
	}

	c.logger.Info("stale rule audit complete")
	return nil
}

// DumpTables writes the full FORWARD, NAT, and route tables to stdout. Used
// by the verbose flag.
func (c *Configurator) DumpTables(ctx context.Context) {
	c.section("detailed rule listing")

	fmt.Fprintln(c.out, "FORWARD chain:")
	if err := c.deps.Runner.Passthrough(ctx, "iptables", "-L", "FORWARD", "-n", "-v", "--line-numbers"); err != nil {
		c.logger.Warn("could not dump FORWARD chain", slog.Any("error", err))
	}

	fmt.Fprintln(c.out, "\nNAT POSTROUTING chain:")
	if err := c.deps.Runner.Passthrough(ctx, "iptables", "-t", "nat", "-L", "POSTROUTING", "-n", "-v", "--line-numbers"); err != nil {
		c.logger.Warn("could not dump POSTROUTING chain", slog.Any("error", err))
	}

	fmt.Fprintln(c.out, "\nRoute table:")
	if err := c.deps.Runner.Passthrough(ctx, "ip", "route"); err != nil {
		c.logger.Warn("could not dump route table", slog.Any("error", err))
	}
}

func (c *Configurator) commitBatch(ctx context.Context) error {
	stats, err := c.deps.Batcher.Commit(ctx)
	if err != nil {
		return err
	}
	if c.deps.Collector != nil {
		c.deps.Collector.AddRules(stats.Added, stats.Skipped)
	}
	if stats.Added > 0 {
		c.logger.Info("applied rule batch", slog.Int("added", stats.Added), slog.Int("skipped", stats.Skipped))
	}
	return nil
}

func (c *Configurator) section(title string) {
	logging.Section(c.out, title)
}
