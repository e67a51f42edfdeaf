package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/tonymke/prochain/internal/chain"
	"github.com/tonymke/prochain/internal/config"
	"github.com/tonymke/prochain/internal/relay"
)

// runChildFromEnv executes the chain role a parent process encoded into the
// environment. It reports false when this process was not spawned by a
// parent link, in which case the normal command tree takes over.
func runChildFromEnv() (int, bool) {
	posValue := os.Getenv(chain.EnvPosition)
	if posValue == "" {
		return 0, false
	}

	position, err := strconv.Atoi(posValue)
	if err != nil || position < 1 || position > config.MaxDepth {
		fmt.Fprintf(os.Stderr, "invalid %s value %q\n", chain.EnvPosition, posValue)
		return 1, true
	}

	signalName := os.Getenv(chain.EnvSignal)
	if signalName == "" {
		signalName = config.DefaultSignalName
	}
	sig, err := config.ParseSignal(signalName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1, true
	}

	rel := relay.Install(position, sig)
	err = chain.Run(chain.Options{
		Position:   position,
		SignalName: signalName,
	}, rel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rel.Finalize()
	if err != nil {
		return 1, true
	}
	return 0, true
}
