package resolved

import (
	"context"
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
	command string
	args    []string
}

func (c execCall) String() string {
	return c.command + " " + strings.Join(c.args, " ")
}

type recordingRunner struct {
	calls  []execCall
	errors map[string]error
}

func (r *recordingRunner) record(command string, args []string) string {
	call := execCall{command: command, args: append([]string(nil), args...)}
	r.calls = append(r.calls, call)
	return call.String()
}

func (r *recordingRunner) Run(_ context.Context, command string, args ...string) error {
	return r.errors[r.record(command, args)]
}

func (r *recordingRunner) Output(_ context.Context, command string, args ...string) (string, error) {
	return "", r.errors[r.record(command, args)]
}

func (r *recordingRunner) Privileged(_ context.Context, command string, args ...string) error {
	return r.errors[r.record(command, args)]
}

func (r *recordingRunner) PrivilegedOutput(_ context.Context, command string, args ...string) (string, error) {
	return "", r.errors[r.record(command, args)]
}

func (r *recordingRunner) Passthrough(_ context.Context, command string, args ...string) error {
	return r.errors[r.record(command, args)]
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

func newTestManager(t *testing.T, runner *recordingRunner, confPath string) *Manager {
	t.Helper()
	m := NewManager(runner, confPath, discardLogger())
	m.settle = time.Millisecond
	m.verify = func(string) error { return nil }
	return m
}

func TestEnsureSkipsWhenDropInCurrent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "minikube-dns.conf")
	content := "[Resolve]\nDNS=10.96.0.10\nDomains=cluster.local\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &recordingRunner{}
	m := newTestManager(t, runner, path)

	changed, err := m.EnsureClusterDNS(context.Background(), "10.96.0.10")
	if err != nil {
		t.Fatalf("EnsureClusterDNS returned error: %v", err)
	}
	if changed {
		t.Fatal("changed = true for an up-to-date drop-in")
	}
	if runner.called("systemctl restart systemd-resolved") {
		t.Fatal("resolver restarted although nothing changed")
	}
}

func TestEnsureWritesDropInAndRestarts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "resolved.conf.d", "minikube-dns.conf")
	runner := &recordingRunner{}
	m := newTestManager(t, runner, path)

	changed, err := m.EnsureClusterDNS(context.Background(), "10.96.0.10")
	if err != nil {
		t.Fatalf("EnsureClusterDNS returned error: %v", err)
	}
	if !changed {
		t.Fatal("changed = false after writing a new drop-in")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("drop-in not written: %v", err)
	}
	content := string(data)
	for _, want := range []string{"[Resolve]", "DNS=10.96.0.10", "Domains=cluster.local"} {
		if !strings.Contains(content, want) {
			t.Fatalf("drop-in missing %q:\n%s", want, content)
		}
	}

	if !runner.called("systemctl restart systemd-resolved") {
		t.Fatal("resolver was not restarted")
	}
	if !runner.called("systemctl is-active systemd-resolved") {
		t.Fatal("resolver state was not verified after restart")
	}
}

func TestEnsureUpdatesStaleDropIn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "minikube-dns.conf")
	if err := os.WriteFile(path, []byte("[Resolve]\nDNS=10.96.0.99\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &recordingRunner{}
	m := newTestManager(t, runner, path)

	changed, err := m.EnsureClusterDNS(context.Background(), "10.96.0.10")
	if err != nil {
		t.Fatalf("EnsureClusterDNS returned error: %v", err)
	}
	if !changed {
		t.Fatal("changed = false for a stale drop-in")
	}

	dns, _, err := ReadDropIn(path)
	if err != nil {
		t.Fatal(err)
	}
	if dns != "10.96.0.10" {
		t.Fatalf("drop-in DNS = %q after update", dns)
	}
}

func TestEnsureFailsWhenRestartFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "minikube-dns.conf")
	runner := &recordingRunner{
		errors: map[string]error{
			"systemctl restart systemd-resolved": fmt.Errorf("unit failed"),
		},
	}
	m := newTestManager(t, runner, path)

	if _, err := m.EnsureClusterDNS(context.Background(), "10.96.0.10"); err == nil {
		t.Fatal("expected error when the resolver restart fails")
	}
}

func TestEnsureFailsWhenResolverStaysDown(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "minikube-dns.conf")
	runner := &recordingRunner{
		errors: map[string]error{
			"systemctl is-active systemd-resolved": fmt.Errorf("inactive"),
		},
	}
	m := newTestManager(t, runner, path)

	if _, err := m.EnsureClusterDNS(context.Background(), "10.96.0.10"); err == nil {
		t.Fatal("expected error when the resolver does not come back up")
	}
}

func TestReadDropIn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "minikube-dns.conf")
	content := "# comment\n[Resolve]\nDNS=10.96.0.10\nDomains=cluster.local\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	dns, domains, err := ReadDropIn(path)
	if err != nil {
		t.Fatalf("ReadDropIn returned error: %v", err)
	}
	if dns != "10.96.0.10" || domains != "cluster.local" {
		t.Fatalf("ReadDropIn = (%q, %q)", dns, domains)
	}
}
