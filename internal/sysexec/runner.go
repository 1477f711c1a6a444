// Package sysexec normalizes how limanet drives external tools. Every probe
// and mutation in the tree goes through a Runner so tests can substitute a
// recording implementation, and so privilege escalation (sudo when not root)
// lives in exactly one place.
package sysexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner abstracts command execution for system interactions.
type Runner interface {
	// Run executes a command, discarding output on success and capturing it
	// into the returned error on failure.
	Run(ctx context.Context, command string, args ...string) error
	// Output executes a command and returns its standard output.
	Output(ctx context.Context, command string, args ...string) (string, error)
	// Privileged behaves like Run but prefixes sudo when not running as root.
	Privileged(ctx context.Context, command string, args ...string) error
	// PrivilegedOutput behaves like Output with the same escalation rule.
	PrivilegedOutput(ctx context.Context, command string, args ...string) (string, error)
	// Passthrough executes a command wired to the process's stdout/stderr,
	// used for verbose table dumps.
	Passthrough(ctx context.Context, command string, args ...string) error
}

// CommandError captures detailed failure information from command execution.
type CommandError struct {
	Command string
	Args    []string
	Output  string
	Err     error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	joined := strings.Join(e.Args, " ")
	if e.Output != "" {
		return fmt.Sprintf("command %s %s failed: %v: %s", e.Command, joined, e.Err, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("command %s %s failed: %v", e.Command, joined, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// RealRunner executes commands on the host system.
type RealRunner struct {
	sudo bool
}

// NewRunner constructs a RealRunner. When the process is not running as root,
// Privileged invocations are prefixed with sudo.
func NewRunner() *RealRunner {
	return &RealRunner{sudo: os.Geteuid() != 0}
}

// Run executes the provided command and returns detailed errors when it fails.
func (r *RealRunner) Run(ctx context.Context, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CommandError{
			Command: command,
			Args:    append([]string(nil), args...),
			Output:  string(output),
			Err:     err,
		}
	}
	return nil
}

// Output executes the provided command and returns its captured stdout.
func (r *RealRunner) Output(ctx context.Context, command string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	stdout, err := cmd.Output()
	if err != nil {
		return "", &CommandError{
			Command: command,
			Args:    append([]string(nil), args...),
			Output:  stderr.String(),
			Err:     err,
		}
	}
	return string(stdout), nil
}

// Privileged executes the command with sudo when the process lacks root.
func (r *RealRunner) Privileged(ctx context.Context, command string, args ...string) error {
	command, args = r.escalate(command, args)
	return r.Run(ctx, command, args...)
}

// PrivilegedOutput executes the command with sudo when the process lacks root
// and returns its captured stdout.
func (r *RealRunner) PrivilegedOutput(ctx context.Context, command string, args ...string) (string, error) {
	command, args = r.escalate(command, args)
	return r.Output(ctx, command, args...)
}

// Passthrough executes the command attached to this process's stdout/stderr.
func (r *RealRunner) Passthrough(ctx context.Context, command string, args ...string) error {
	command, args = r.escalate(command, args)
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &CommandError{
			Command: command,
			Args:    append([]string(nil), args...),
			Err:     err,
		}
	}
	return nil
}

func (r *RealRunner) escalate(command string, args []string) (string, []string) {
	if !r.sudo || command == "sudo" {
		return command, args
	}
	return "sudo", append([]string{command}, args...)
}

// CommandExists reports whether the named binary can be found on PATH.
func CommandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// IsRoot reports whether the process runs with effective UID 0.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// SudoUsable reports whether passwordless sudo is available, used as the
// permission gate when the process is not root.
func SudoUsable(ctx context.Context) bool {
	return exec.CommandContext(ctx, "sudo", "-n", "true").Run() == nil
}
