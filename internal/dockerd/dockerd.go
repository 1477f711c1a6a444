// Package dockerd keeps the Docker daemon's own iptables management switched
// off. Docker inserting its own FORWARD and MASQUERADE rules would fight the
// rules this tool applies, so daemon.json must carry "iptables": false before
// anything else runs.
package dockerd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/limanet/limanet/internal/sysexec"
)

const (
	backupTimeFormat = "20060102_150405"

	restartPollAttempts = 10
	restartPollInterval = time.Second
)

// Manager reconciles daemon.json and restarts the daemon when it changed.
type Manager struct {
	runner sysexec.Runner
	logger *slog.Logger
	path   string

	now          func() time.Time
	pollInterval time.Duration
	pollAttempts int
}

// NewManager constructs a Manager for the daemon.json at path.
func NewManager(runner sysexec.Runner, path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:       runner,
		logger:       logger,
		path:         path,
		now:          time.Now,
		pollInterval: restartPollInterval,
		pollAttempts: restartPollAttempts,
	}
}

// EnsureIptablesDisabled converges daemon.json to "iptables": false,
// preserving every other key, restarts the daemon when the file changed, and
// verifies both the file and the daemon afterwards. Malformed JSON and
// restart failures are returned as errors; callers treat them as fatal.
func (m *Manager) EnsureIptablesDisabled(ctx context.Context) error {
	needsRestart, err := m.reconcileConfig()
	if err != nil {
		return err
	}

	if needsRestart {
		if err := m.restart(ctx); err != nil {
			return err
		}
	}

	cfg, err := m.readConfig()
	if err != nil {
		return fmt.Errorf("verify %s: %w", m.path, err)
	}
	if !iptablesDisabled(cfg) {
		return fmt.Errorf("verify %s: iptables is still enabled after update", m.path)
	}
	m.logger.Info("docker iptables management disabled", slog.String("path", m.path))
	return nil
}

func (m *Manager) reconcileConfig() (bool, error) {
	cfg, err := m.readConfig()
	if errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("docker config file missing, creating it", slog.String("path", m.path))
		if err := m.writeConfig(map[string]any{"iptables": false}); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if iptablesDisabled(cfg) {
		m.logger.Info("docker iptables config already correct")
		return false, nil
	}

	m.logger.Warn("docker iptables config incorrect", slog.Any("iptables", cfg["iptables"]))

	backup := fmt.Sprintf("%s.backup.%s", m.path, m.now().Format(backupTimeFormat))
	if err := copyFile(m.path, backup); err != nil {
		return false, fmt.Errorf("back up %s: %w", m.path, err)
	}
	m.logger.Info("backed up docker config", slog.String("backup", backup))

	cfg["iptables"] = false
	if err := m.writeConfig(cfg); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) readConfig() (map[string]any, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	return cfg, nil
}

func (m *Manager) writeConfig(cfg map[string]any) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode docker config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(m.path), err)
	}
	if err := os.WriteFile(m.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", m.path, err)
	}
	return nil
}

// restart bounces the daemon, then polls `docker ps` until it answers again.
func (m *Manager) restart(ctx context.Context) error {
	m.logger.Warn("docker config changed, restarting docker")
	if err := m.runner.Privileged(ctx, "systemctl", "restart", "docker"); err != nil {
		return fmt.Errorf("restart docker: %w", err)
	}

	for attempt := 0; attempt < m.pollAttempts; attempt++ {
		if err := m.runner.Run(ctx, "docker", "ps"); err == nil {
			m.logger.Info("docker daemon is back up")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
	return fmt.Errorf("docker daemon did not recover within %d attempts", m.pollAttempts)
}

func iptablesDisabled(cfg map[string]any) bool {
	value, ok := cfg["iptables"]
	if !ok {
		return false
	}
	enabled, ok := value.(bool)
	return ok && !enabled
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
