package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config captures the runtime settings for limanet components. It is built
// once at startup and handed to each component at construction; nothing reads
// viper after that point.
type Config struct {
	LogLevel        string `mapstructure:"log-level"`
	Verbose         bool   `mapstructure:"verbose"`
	DaemonJSONPath  string `mapstructure:"daemon-json"`
	DNSConfPath     string `mapstructure:"dns-conf"`
	TunnelInterface string `mapstructure:"tunnel-interface"`
	MinikubeFilter  string `mapstructure:"minikube-filter"`
	Kubeconfig      string `mapstructure:"kubeconfig"`
	MetricsTextfile string `mapstructure:"metrics-textfile"`
}

// Load reads configuration values from viper into a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to load configuration: %w", err)
	}
	return cfg, nil
}
