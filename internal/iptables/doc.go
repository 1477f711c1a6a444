// Package iptables implements the idempotent rule application layer. Desired
// rules are queued against (table, chain) pairs and committed in one pass: the
// current listing of each touched chain is fetched once with `iptables -S`,
// rules already present are skipped, and newly applied rules are appended to
// the in-memory listing so later rules in the same batch see them. Failures
// applying an individual rule never abort the batch; the tool is designed to
// be re-run to converge.
package iptables
