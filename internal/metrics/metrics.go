// Package metrics records run outcomes as Prometheus instruments. limanet is
// a one-shot tool with nothing to scrape, so instead of serving an endpoint
// the counters are written in node-exporter textfile-collector format when a
// target path is configured.
package metrics

import (
	"bytes"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector bundles Prometheus instruments for a single run.
type Collector struct {
	registry     *prometheus.Registry
	rulesAdded   prometheus.Counter
	rulesSkipped prometheus.Counter
	routesAdded  prometheus.Counter
	bridges      prometheus.Gauge
}

// NewCollector constructs a Collector with an isolated registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	rulesAdded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "limanet",
		Name:      "rules_added_total",
		Help:      "Number of iptables rules added during the run.",
	})

	rulesSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "limanet",
		Name:      "rules_skipped_total",
		Help:      "Number of desired iptables rules that were already present.",
	})

	routesAdded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "limanet",
		Name:      "routes_added_total",
		Help:      "Number of host routes added during the run.",
	})

	bridges := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "limanet",
		Name:      "bridges",
		Help:      "Number of Docker bridge networks discovered.",
	})

	registry.MustRegister(rulesAdded, rulesSkipped, routesAdded, bridges)

	return &Collector{
		registry:     registry,
		rulesAdded:   rulesAdded,
		rulesSkipped: rulesSkipped,
		routesAdded:  routesAdded,
		bridges:      bridges,
	}
}

// AddRules records the outcome of one committed rule batch.
func (c *Collector) AddRules(added, skipped int) {
	c.rulesAdded.Add(float64(added))
	c.rulesSkipped.Add(float64(skipped))
}

// AddRoute records one added host route.
func (c *Collector) AddRoute() {
	c.routesAdded.Inc()
}

// SetBridgeCount records the number of discovered bridges.
func (c *Collector) SetBridgeCount(count int) {
	c.bridges.Set(float64(count))
}

// WriteTextfile renders the registry in textfile-collector format, writing to
// a temp file first so a scraping node exporter never sees a partial file.
func (c *Collector) WriteTextfile(path string) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish metrics textfile: %w", err)
	}
	return nil
}
