package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the prochain command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "prochain",
		Short: "Build a signal-propagated chain of processes",
	}

	root.AddCommand(newRunCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root
}

// Execute runs the CLI entrypoint. Re-executed chain children bypass the
// command tree entirely: their role arrives in the environment, not argv.
func Execute() {
	if code, isChild := runChildFromEnv(); isChild {
		os.Exit(code)
	}

	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
