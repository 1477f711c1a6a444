package netinfo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/limanet/limanet/internal/sysexec"
)

const (
	bridgeNameOption = "com.docker.network.bridge.name"

	networkInspectFormat   = `{{.ID}}|{{index .Options "` + bridgeNameOption + `"}}|{{range .IPAM.Config}}{{.Subnet}}{{end}}`
	attachmentFormat       = `{{range .NetworkSettings.Networks}}{{.NetworkID}}|{{.IPAddress}}{{end}}`
	bridgeDetailFormat     = `{{index .Options "` + bridgeNameOption + `"}}|{{range .IPAM.Config}}{{.Subnet}}{{end}}`
	missingTemplateValue   = "<no value>"
	synthesizedNamePrefix  = "br-"
	synthesizedNameIDChars = 12
)

// Probe reads live network state from Docker and the host. It holds no state
// of its own beyond the link cache, so results always reflect the system at
// call time.
type Probe struct {
	runner sysexec.Runner
	links  LinkProber
	logger *slog.Logger
}

// NewProbe constructs a Probe.
func NewProbe(runner sysexec.Runner, links LinkProber, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{runner: runner, links: links, logger: logger}
}

// PhysicalInterface returns the device carrying the default route.
func (p *Probe) PhysicalInterface() string {
	return p.links.DefaultRouteInterface()
}

// InterfaceExists reports whether a host interface with the name exists.
func (p *Probe) InterfaceExists(name string) bool {
	return p.links.Exists(name)
}

// LinkNames lists the names of every interface on the host.
func (p *Probe) LinkNames() ([]string, error) {
	return p.links.LinkNames()
}

// Bridges lists all bridge-driver Docker networks whose interface exists on
// the host. Networks without a configured bridge name get one synthesized
// from the network id. A failure listing networks means the Docker daemon is
// unreachable and is returned as an error; a failed bulk inspect degrades to
// an empty result.
func (p *Probe) Bridges(ctx context.Context) ([]Bridge, error) {
	out, err := p.runner.Output(ctx, "docker", "network", "ls", "-q", "--filter", "driver=bridge")
	if err != nil {
		return nil, fmt.Errorf("list docker networks: %w", err)
	}

	var ids []string
	for _, id := range strings.Fields(out) {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := append([]string{"network", "inspect"}, ids...)
	args = append(args, "--format", networkInspectFormat)
	out, err = p.runner.Output(ctx, "docker", args...)
	if err != nil {
		p.logger.Debug("bulk network inspect failed", slog.Any("error", err))
		return nil, nil
	}

	var bridges []Bridge
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}
		id := strings.TrimSpace(parts[0])
		name := synthesizeBridgeName(parts[1], id)
		subnet := strings.TrimSpace(parts[2])

		if !p.links.Exists(name) {
			p.logger.Debug("skipping bridge without host interface", slog.String("bridge", name))
			continue
		}
		if subnet == "" {
			continue
		}
		bridges = append(bridges, Bridge{Name: name, Subnet: subnet, NetworkID: id})
	}

	return bridges, nil
}

// Minikube locates the Minikube container and resolves its bridge attachment.
// All lookups fail soft: any miss returns a nil Minikube and no error.
func (p *Probe) Minikube(ctx context.Context, nameFilter string) (*Minikube, error) {
	out, err := p.runner.Output(ctx, "docker", "ps", "--filter", "name="+nameFilter, "--format", "{{.ID}}")
	if err != nil {
		p.logger.Debug("minikube container lookup failed", slog.Any("error", err))
		return nil, nil
	}

	containerID := firstLine(out)
	if containerID == "" {
		return nil, nil
	}

	out, err = p.runner.Output(ctx, "docker", "inspect", containerID, "--format", attachmentFormat)
	if err != nil || !strings.Contains(out, "|") {
		return nil, nil
	}
	networkID, containerIP, _ := strings.Cut(strings.TrimSpace(out), "|")
	networkID = strings.TrimSpace(networkID)
	containerIP = strings.TrimSpace(containerIP)

	out, err = p.runner.Output(ctx, "docker", "network", "inspect", networkID, "--format", bridgeDetailFormat)
	if err != nil || !strings.Contains(out, "|") {
		return nil, nil
	}
	rawName, subnet, _ := strings.Cut(strings.TrimSpace(out), "|")

	return &Minikube{
		BridgeName:  synthesizeBridgeName(rawName, networkID),
		ContainerIP: containerIP,
		Subnet:      strings.TrimSpace(subnet),
	}, nil
}

func synthesizeBridgeName(raw, networkID string) string {
	name := strings.TrimSpace(raw)
	if name != "" && name != missingTemplateValue {
		return name
	}
	id := networkID
	if len(id) > synthesizedNameIDChars {
		id = id[:synthesizedNameIDChars]
	}
	return synthesizedNamePrefix + id
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
