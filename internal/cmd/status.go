package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/limanet/limanet/internal/config"
	"github.com/limanet/limanet/internal/logging"
	"github.com/limanet/limanet/internal/netinfo"
	"github.com/limanet/limanet/internal/routing"
	"github.com/limanet/limanet/internal/sysexec"
	"github.com/limanet/limanet/internal/topology"
)

// StatusCmd renders the topology report without mutating anything.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current network topology without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		reporter := topology.New(cfg, runner, probe, routing.NewManager(logger), clusterClient(cfg, logger), logger, os.Stdout)
		return reporter.Render(cmd.Context())
	},
}
