package iptables

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/limanet/limanet/internal/sysexec"
)

// Batcher queues desired rules and applies the missing ones in a single pass,
// loading each touched chain's listing at most once.
type Batcher struct {
	runner sysexec.Runner
	logger *slog.Logger
	queued []Rule
	cache  map[ChainKey]string
}

// NewBatcher constructs a Batcher backed by the provided runner.
func NewBatcher(runner sysexec.Runner, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		runner: runner,
		logger: logger,
		cache:  make(map[ChainKey]string),
	}
}

// Queue records a desired rule for the next Commit.
func (b *Batcher) Queue(rule Rule) {
	b.queued = append(b.queued, rule)
}

// Commit applies every queued rule that is not already present. A rule that
// fails to apply is logged and the batch continues; there is no rollback.
func (b *Batcher) Commit(ctx context.Context) (Stats, error) {
	if len(b.queued) == 0 {
		return Stats{}, nil
	}

	b.logger.Debug("committing rule batch", slog.Int("rules", len(b.queued)))

	for _, rule := range b.queued {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		b.loadChain(ctx, rule.Key())
	}

	var stats Stats
	for _, rule := range b.queued {
		if err := ctx.Err(); err != nil {
			b.queued = nil
			return stats, err
		}

		if b.existsInCache(rule) {
			b.logger.Debug("rule already present", slog.String("rule", rule.Command()))
			stats.Skipped++
			continue
		}

		if err := b.runner.Privileged(ctx, binary, appendArgs(rule)...); err != nil {
			b.logger.Error("failed to add rule", slog.String("rule", rule.Command()), slog.Any("error", err))
			continue
		}

		b.logger.Info("added rule", slog.String("rule", rule.Command()))
		stats.Added++

		// Later rules in this batch must see the one just applied.
		key := rule.Key()
		b.cache[key] += fmt.Sprintf("\n-A %s %s", rule.Chain, specString(rule.Spec))
	}

	b.queued = nil
	b.logger.Debug("batch complete", slog.Int("added", stats.Added), slog.Int("skipped", stats.Skipped))
	return stats, nil
}

// loadChain fetches and caches the chain's `-S` listing. A listing failure is
// treated as an empty chain so every queued rule gets an apply attempt.
func (b *Batcher) loadChain(ctx context.Context, key ChainKey) {
	if _, ok := b.cache[key]; ok {
		return
	}

	args := append(tableArgs(key.Table), "-S", key.Chain)
	listing, err := b.runner.PrivilegedOutput(ctx, binary, args...)
	if err != nil {
		b.logger.Debug("could not list chain",
			slog.String("table", key.Table),
			slog.String("chain", key.Chain),
			slog.Any("error", err),
		)
		listing = ""
	}
	b.cache[key] = listing
}

// existsInCache reports presence by literal substring match of the joined rule
// spec against the cached listing. This mirrors the behavior of comparing
// against `iptables -S` output directly and is sensitive to argument order.
func (b *Batcher) existsInCache(rule Rule) bool {
	listing, ok := b.cache[rule.Key()]
	if !ok {
		return false
	}
	spec := specString(rule.Spec)
	return spec != "" && strings.Contains(listing, spec)
}
