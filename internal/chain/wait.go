package chain

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// waitChild blocks until the child identified by pid terminates. A wait
// interrupted by signal delivery is expected and retried; any other wait
// failure is returned. The relayed signal therefore never unblocks a
// supervising parent directly: only its child's termination does.
func waitChild(pid int) error {
	var status unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &status, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait4: %w", err)
		}
		if wpid == pid && (status.Exited() || status.Signaled()) {
			return nil
		}
	}
}
