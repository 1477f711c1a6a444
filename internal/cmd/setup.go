package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"

	"github.com/limanet/limanet/internal/config"
	"github.com/limanet/limanet/internal/dockerd"
	"github.com/limanet/limanet/internal/iptables"
	"github.com/limanet/limanet/internal/k8s"
	"github.com/limanet/limanet/internal/logging"
	"github.com/limanet/limanet/internal/metrics"
	"github.com/limanet/limanet/internal/netinfo"
	"github.com/limanet/limanet/internal/resolved"
	"github.com/limanet/limanet/internal/routing"
	"github.com/limanet/limanet/internal/setup"
	"github.com/limanet/limanet/internal/sysexec"
	"github.com/limanet/limanet/internal/topology"
)

// runSetup is the root command: apply every configuration step, then report.
func runSetup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}

	runner := sysexec.NewRunner()
	probe := netinfo.NewProbe(runner, netinfo.NewLinkProber(), logger)
	routes := routing.NewManager(logger)
	kube := clusterClient(cfg, logger)
	collector := metrics.NewCollector()

	configurator := setup.New(cfg, setup.Deps{
		Runner:    runner,
		Probe:     probe,
		Batcher:   iptables.NewBatcher(runner, logger),
		Routes:    routes,
		Dockerd:   dockerd.NewManager(runner, cfg.DaemonJSONPath, logger),
		Resolved:  resolved.NewManager(runner, cfg.DNSConfPath, logger),
		Kube:      kube,
		Collector: collector,
		Logger:    logger,
		Out:       os.Stdout,
	})

	if err := configurator.Run(ctx); err != nil {
		return err
	}

	// The reporter re-probes with fresh caches so the summary reflects the
	// host, not this run's bookkeeping.
	reportProbe := netinfo.NewProbe(runner, netinfo.NewLinkProber(), logger)
	reporter := topology.New(cfg, runner, reportProbe, routes, kube, logger, os.Stdout)
	if err := reporter.Render(ctx); err != nil {
		return err
	}

	if cfg.Verbose {
		configurator.DumpTables(ctx)
	}

	if cfg.MetricsTextfile != "" {
		if err := collector.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Warn("failed to write metrics textfile", slog.Any("error", err))
		}
	}

	logging.Section(os.Stdout, "network configuration complete")
	return nil
}

// clusterClient builds the Kubernetes client, degrading to nil (all cluster
// lookups skipped) when no kubeconfig is usable.
func clusterClient(cfg config.Config, logger *slog.Logger) kubernetes.Interface {
	kube, err := k8s.NewClient(cfg.Kubeconfig)
	if err != nil {
		logger.Warn("cluster lookups disabled", slog.Any("error", err))
		return nil
	}
	return kube
}
