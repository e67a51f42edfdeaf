// Package chain builds the linear process chain and tears it down again.
//
// Every process in the chain executes the same Run logic starting from a
// different position. A process whose position exceeds 1 creates exactly
// one child one position below itself and then blocks until that child
// terminates; the position-1 leaf instead blocks until the relayed signal
// arrives. Since the Go runtime cannot fork, children are created by
// re-executing the current binary with the next position carried in the
// environment.
package chain

import (
	"fmt"

	"github.com/tonymke/prochain/internal/diag"
	"github.com/tonymke/prochain/internal/metrics"
	"github.com/tonymke/prochain/internal/relay"
)

// Environment variables carrying chain state into re-executed children.
// Children are recognized purely by EnvPosition so argv stays irrelevant.
const (
	EnvPosition = "PROCHAIN_POSITION"
	EnvSignal   = "PROCHAIN_SIGNAL"
)

// Options configures one process's run of the chain logic.
type Options struct {
	// Position is this process's countdown slot: the configured chain
	// length in the root, 1 in the leaf. Fixed for the process lifetime.
	Position int
	// SignalName names the interrupt the relay handles, as encoded into
	// child environments.
	SignalName string
	// Executable overrides the binary re-executed for children. Empty
	// means the current executable. Tests point it at themselves.
	Executable string
}

// Run executes this process's chain role: spawn-and-wait above position 1,
// await the relayed signal at position 1. It returns once the role is
// complete; the caller then runs the relay's exit hook.
func Run(opts Options, rel *relay.Relay) error {
	metrics.SetChainPosition(opts.Position)
	diag.Logf(opts.Position, "started")

	if opts.Position > 1 {
		return superviseChild(opts)
	}

	diag.Logf(opts.Position, "last process awaiting signal")
	<-rel.Caught()
	return nil
}

func superviseChild(opts Options) error {
	pid, err := spawn(opts)
	if err != nil {
		return fmt.Errorf("spawn child: %w", err)
	}
	metrics.IncrementSpawns()

	diag.Logf(opts.Position, "waiting")
	if err := waitChild(pid); err != nil {
		return fmt.Errorf("wait for child %d: %w", pid, err)
	}
	return nil
}
