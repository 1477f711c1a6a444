package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/limanet/limanet/internal/logging"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "limanet",
	Short: "Configure Lima VM networking for Docker bridges and Minikube",
	Long: `limanet converges a Lima VM's forwarding, NAT, routing, and DNS so Docker
bridge networks (including a Minikube cluster) can reach each other and the
outside world. Every step is idempotent; re-running converges the host.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix("LIMANET")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()

		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		logging.InitLogger(viper.GetString("log-level"), os.Stdout)
		return nil
	},
	RunE: runSetup,
}

// ExecuteContext runs the root command with the provided context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolP("verbose", "v", false, "Dump full rule and route tables at the end")
	flags.String("kubeconfig", "", "Path to kubeconfig for cluster lookups")
	flags.String("daemon-json", "/etc/docker/daemon.json", "Path to the Docker daemon configuration")
	flags.String("dns-conf", "/etc/systemd/resolved.conf.d/minikube-dns.conf", "Path to the resolver drop-in")
	flags.String("tunnel-interface", "tun0", "Tunnel interface to connect to the bridges")
	flags.String("minikube-filter", "minikube", "Container name filter used to find Minikube")
	flags.String("metrics-textfile", "", "Write run metrics to this node-exporter textfile path")

	for _, name := range []string{
		"log-level",
		"verbose",
		"kubeconfig",
		"daemon-json",
		"dns-conf",
		"tunnel-interface",
		"minikube-filter",
		"metrics-textfile",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(StatusCmd)
	rootCmd.AddCommand(VersionCmd)
}
