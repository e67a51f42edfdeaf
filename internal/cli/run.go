package cli

import (
	stdcontext "context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonymke/prochain/internal/chain"
	"github.com/tonymke/prochain/internal/config"
	"github.com/tonymke/prochain/internal/metrics"
	"github.com/tonymke/prochain/internal/relay"
)

func newRunCmd() *cobra.Command {
	var (
		manifestFile  string
		depth         int
		signalName    string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the chain and hold it until the teardown signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Default()
			if err != nil {
				return err
			}
			if manifestFile != "" {
				manifest, err := config.Load(manifestFile)
				if err != nil {
					return err
				}
				manifest.Apply(&cfg)
			}
			if cmd.Flags().Changed("depth") {
				cfg.Depth = depth
			}
			if cmd.Flags().Changed("signal") {
				cfg.SignalName = signalName
			}
			if cmd.Flags().Changed("metrics-listen") {
				cfg.MetricsListen = metricsListen
			}
			if err := cfg.Resolve(); err != nil {
				return err
			}
			return runRoot(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "file", "f", "", "Path to an optional prochain manifest")
	cmd.Flags().IntVarP(&depth, "depth", "n", 0, "Chain length, including this process (default "+config.DefaultDepth+")")
	cmd.Flags().StringVar(&signalName, "signal", config.DefaultSignalName, "Signal relayed through the chain")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Address for the root's /metrics endpoint (disabled when empty)")

	return cmd
}

// runRoot executes the chain logic in the original process.
func runRoot(cmd *cobra.Command, cfg config.Config) error {
	var stopMetrics func() error
	if cfg.MetricsListen != "" {
		stop, err := startMetricsServer(cmd, cfg.MetricsListen)
		if err != nil {
			return err
		}
		stopMetrics = stop
	}

	if term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(cmd.OutOrStdout(),
			"Chain of %d starting; deliver %s to the position-1 leaf to tear it down.\n",
			cfg.Depth, cfg.SignalName)
	}

	rel := relay.Install(cfg.Depth, cfg.Signal)
	err := chain.Run(chain.Options{
		Position:   cfg.Depth,
		SignalName: cfg.SignalName,
	}, rel)

	if stopMetrics != nil {
		if stopErr := stopMetrics(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	rel.Finalize()
	return err
}

func startMetricsServer(cmd *cobra.Command, addr string) (func() error, error) {
	server, err := metrics.NewServer(addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Metrics listening on %s\n", server.Addr())
	return func() error {
		cancel()
		return <-errCh
	}, nil
}
