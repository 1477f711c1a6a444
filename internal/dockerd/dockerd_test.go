package dockerd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type execCall struct {
	privileged bool
	command    string
	args       []string
}

func (c execCall) String() string {
	return c.command + " " + strings.Join(c.args, " ")
}

type recordingRunner struct {
	calls  []execCall
	errors map[string]error
}

func (r *recordingRunner) record(privileged bool, command string, args []string) string {
	call := execCall{privileged: privileged, command: command, args: append([]string(nil), args...)}
	r.calls = append(r.calls, call)
	return call.String()
}

func (r *recordingRunner) Run(_ context.Context, command string, args ...string) error {
	return r.errors[r.record(false, command, args)]
}

func (r *recordingRunner) Output(_ context.Context, command string, args ...string) (string, error) {
	return "", r.errors[r.record(false, command, args)]
}

func (r *recordingRunner) Privileged(_ context.Context, command string, args ...string) error {
	return r.errors[r.record(true, command, args)]
}

func (r *recordingRunner) PrivilegedOutput(_ context.Context, command string, args ...string) (string, error) {
	return "", r.errors[r.record(true, command, args)]
}

func (r *recordingRunner) Passthrough(_ context.Context, command string, args ...string) error {
	return r.errors[r.record(false, command, args)]
}

func (r *recordingRunner) called(key string) bool {
	for _, call := range r.calls {
		if call.String() == key {
			return true
		}
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, runner *recordingRunner, path string) *Manager {
	t.Helper()
	m := NewManager(runner, path, discardLogger())
	m.pollInterval = time.Millisecond
	return m
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return cfg
}

func TestEnsureCreatesMissingConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docker", "daemon.json")
	runner := &recordingRunner{}
	m := newTestManager(t, runner, path)

	if err := m.EnsureIptablesDisabled(context.Background()); err != nil {
		t.Fatalf("EnsureIptablesDisabled returned error: %v", err)
	}

	cfg := readJSON(t, path)
	if enabled, ok := cfg["iptables"].(bool); !ok || enabled {
		t.Fatalf("iptables = %v, want false", cfg["iptables"])
	}
	if !runner.called("systemctl restart docker") {
		t.Fatal("docker was not restarted after creating the config")
	}
	if !runner.called("docker ps") {
		t.Fatal("daemon recovery was not polled")
	}
}

func TestEnsurePreservesForeignKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.json")
	original := `{"log-driver": "json-file", "iptables": true, "storage-driver": "overlay2"}`
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &recordingRunner{}
	m := newTestManager(t, runner, path)

	if err := m.EnsureIptablesDisabled(context.Background()); err != nil {
		t.Fatalf("EnsureIptablesDisabled returned error: %v", err)
	}

	cfg := readJSON(t, path)
	if enabled, ok := cfg["iptables"].(bool); !ok || enabled {
		t.Fatalf("iptables = %v, want false", cfg["iptables"])
	}
	if cfg["log-driver"] != "json-file" || cfg["storage-driver"] != "overlay2" {
		t.Fatalf("foreign keys not preserved: %v", cfg)
	}

	backups, err := filepath.Glob(path + ".backup.*")
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected exactly one backup, got %v (err %v)", backups, err)
	}
	if data, _ := os.ReadFile(backups[0]); string(data) != original {
		t.Fatalf("backup content = %q, want original config", string(data))
	}
}

func TestEnsureNoopWhenAlreadyDisabled(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.json")
	if err := os.WriteFile(path, []byte(`{"iptables": false}`), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &recordingRunner{}
	m := newTestManager(t, runner, path)

	if err := m.EnsureIptablesDisabled(context.Background()); err != nil {
		t.Fatalf("EnsureIptablesDisabled returned error: %v", err)
	}
	if runner.called("systemctl restart docker") {
		t.Fatal("docker restarted although the config was already correct")
	}
}

func TestEnsureRejectsMalformedConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.json")
	if err := os.WriteFile(path, []byte(`{"iptables": `), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, &recordingRunner{}, path)
	if err := m.EnsureIptablesDisabled(context.Background()); err == nil {
		t.Fatal("expected error for malformed daemon.json")
	}
}

func TestEnsureFailsWhenDaemonDoesNotRecover(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.json")
	runner := &recordingRunner{
		errors: map[string]error{
			"docker ps": fmt.Errorf("Cannot connect to the Docker daemon"),
		},
	}
	m := newTestManager(t, runner, path)
	m.pollAttempts = 2

	if err := m.EnsureIptablesDisabled(context.Background()); err == nil {
		t.Fatal("expected error when the daemon stays down")
	}
}
