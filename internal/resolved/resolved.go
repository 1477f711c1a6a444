// Package resolved points systemd-resolved at the Minikube cluster's DNS
// service through a drop-in, so names under cluster.local resolve from the
// host.
package resolved

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/limanet/limanet/internal/sysexec"
)

const (
	serviceName = "systemd-resolved"

	// ClusterDomain is the search domain routed to the cluster DNS service.
	ClusterDomain = "cluster.local"

	settleDelay = time.Second
)

// Manager writes the resolver drop-in and restarts systemd-resolved.
type Manager struct {
	runner   sysexec.Runner
	logger   *slog.Logger
	confPath string

	now    func() time.Time
	settle time.Duration
	verify func(dnsIP string) error
}

// NewManager constructs a Manager writing the drop-in at confPath.
func NewManager(runner sysexec.Runner, confPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:   runner,
		logger:   logger,
		confPath: confPath,
		now:      time.Now,
		settle:   settleDelay,
		verify:   VerifyClusterDNS,
	}
}

// Active reports whether systemd-resolved is currently running.
func (m *Manager) Active(ctx context.Context) bool {
	return m.runner.Run(ctx, "systemctl", "is-active", serviceName) == nil
}

// EnsureClusterDNS writes the drop-in for the given DNS IP and restarts the
// resolver, skipping both when the current drop-in already names that IP.
// It reports whether anything changed. A restart failure, or the service not
// coming back active, is an error; callers treat it as fatal.
func (m *Manager) EnsureClusterDNS(ctx context.Context, dnsIP string) (bool, error) {
	if current, err := os.ReadFile(m.confPath); err == nil {
		if strings.Contains(string(current), "DNS="+dnsIP) {
			m.logger.Debug("dns drop-in already correct", slog.String("dns_ip", dnsIP))
			return false, nil
		}
	}

	if err := m.writeDropIn(dnsIP); err != nil {
		return false, err
	}
	m.logger.Info("wrote dns drop-in", slog.String("path", m.confPath), slog.String("dns_ip", dnsIP))

	if err := m.runner.Privileged(ctx, "systemctl", "restart", serviceName); err != nil {
		return false, fmt.Errorf("restart %s: %w", serviceName, err)
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(m.settle):
	}

	if !m.Active(ctx) {
		return false, fmt.Errorf("%s did not come back up after restart", serviceName)
	}
	m.logger.Info("resolver restarted", slog.String("service", serviceName))

	if err := m.verify(dnsIP); err != nil {
		m.logger.Warn("cluster dns did not answer a test query", slog.String("dns_ip", dnsIP), slog.Any("error", err))
	} else {
		m.logger.Info("cluster dns answered test query", slog.String("dns_ip", dnsIP))
	}

	return true, nil
}

func (m *Manager) writeDropIn(dnsIP string) error {
	if err := os.MkdirAll(filepath.Dir(m.confPath), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(m.confPath), err)
	}

	content := fmt.Sprintf(`# Minikube cluster DNS
# Generated by limanet at %s
[Resolve]
DNS=%s
Domains=%s
`, m.now().Format(time.DateTime), dnsIP, ClusterDomain)

	if err := os.WriteFile(m.confPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", m.confPath, err)
	}
	return nil
}

// ReadDropIn extracts the DNS and Domains values from a drop-in file. Missing
// keys come back empty.
func ReadDropIn(path string) (dns string, domains string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, "DNS="); ok {
			dns = value
		}
		if value, ok := strings.CutPrefix(line, "Domains="); ok {
			domains = value
		}
	}
	return dns, domains, nil
}
