package chain

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// spawn creates the next link of the chain by re-executing the binary with
// the decremented position in its environment. The child shares stdout and
// stderr so every process logs to the same stream.
func spawn(opts Options) (int, error) {
	exe := opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return 0, fmt.Errorf("resolve executable: %w", err)
		}
	}

	cmd := exec.Command(exe)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		EnvPosition+"="+strconv.Itoa(opts.Position-1),
		EnvSignal+"="+opts.SignalName,
	)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", exe, err)
	}
	return cmd.Process.Pid, nil
}
