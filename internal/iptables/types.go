package iptables

import (
	"strings"

	"al.essio.dev/pkg/shellescape"
)

const binary = "iptables"

// Rule represents a single desired iptables rule.
type Rule struct {
	Table string
	Chain string
	Spec  []string
}

// ChainKey identifies a (table, chain) pair for rule-listing caches.
type ChainKey struct {
	Table string
	Chain string
}

// Key returns the cache key for the rule's table and chain.
func (r Rule) Key() ChainKey {
	return ChainKey{Table: r.Table, Chain: r.Chain}
}

// Command renders the append invocation for logs.
func (r Rule) Command() string {
	return shellescape.QuoteCommand(append([]string{binary}, appendArgs(r)...))
}

// Stats summarizes the outcome of a committed batch.
type Stats struct {
	Added   int
	Skipped int
}

// Merge accumulates another batch's outcome into s.
func (s *Stats) Merge(other Stats) {
	s.Added += other.Added
	s.Skipped += other.Skipped
}

// appendArgs builds the argument list for `iptables -A`. The -t flag is
// omitted for the filter table, matching the command lines the listing cache
// is compared against.
func appendArgs(r Rule) []string {
	args := tableArgs(r.Table)
	args = append(args, "-A", r.Chain)
	return append(args, r.Spec...)
}

func tableArgs(table string) []string {
	if table == "" || table == "filter" {
		return nil
	}
	return []string{"-t", table}
}

func specString(spec []string) string {
	return strings.Join(spec, " ")
}
