package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	spawnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prochain",
		Name:      "spawns_total",
		Help:      "Total child processes this process has created.",
	})

	chainPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prochain",
		Name:      "chain_position",
		Help:      "This process's position in the chain (1 is the leaf).",
	})

	signalsRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prochain",
		Name:      "signals_relayed_total",
		Help:      "Terminating signals recorded for re-delivery at exit.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "prochain",
		Name:      "build_info",
		Help:      "Build metadata for the running prochain binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(spawnsTotal, chainPosition, signalsRelayed, buildInfo)
}

// Registry returns the Prometheus registry containing all prochain metrics.
func Registry() *prometheus.Registry {
	return registry
}

// IncrementSpawns records one successful child creation.
func IncrementSpawns() {
	spawnsTotal.Inc()
}

// SetChainPosition records the process's fixed position in the chain.
func SetChainPosition(position int) {
	chainPosition.Set(float64(position))
}

// IncrementSignalsRelayed records a terminating signal held for re-delivery.
func IncrementSignalsRelayed() {
	signalsRelayed.Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
