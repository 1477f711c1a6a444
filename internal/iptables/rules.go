package iptables

import (
	"context"
	"strings"

	"github.com/limanet/limanet/internal/sysexec"
)

// RuleExists performs a live `-C` check for a single rule, bypassing any
// batch cache. Used by the topology reporter.
func RuleExists(ctx context.Context, runner sysexec.Runner, table, chain string, spec []string) bool {
	args := append(tableArgs(table), "-C", chain)
	args = append(args, spec...)
	return runner.Privileged(ctx, binary, args...) == nil
}

// ListRules returns the numbered rule lines of a chain, with the two header
// lines stripped.
func ListRules(ctx context.Context, runner sysexec.Runner, table, chain string) ([]string, error) {
	args := append(tableArgs(table), "-L", chain, "-n", "--line-numbers")

	out, err := runner.PrivilegedOutput(ctx, binary, args...)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 2 {
		return nil, nil
	}
	return lines[2:], nil
}
