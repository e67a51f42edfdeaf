package chain

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tonymke/prochain/internal/config"
	"github.com/tonymke/prochain/internal/relay"
)

// TestMain lets the test binary stand in for the prochain executable: when
// a parent link has encoded a position into the environment, the binary
// runs the chain role instead of the test suite. Children created by that
// role re-execute the test binary again and take the same path.
func TestMain(m *testing.M) {
	if os.Getenv(EnvPosition) != "" {
		os.Exit(runChainProcess())
	}
	os.Exit(m.Run())
}

func runChainProcess() int {
	position, err := strconv.Atoi(os.Getenv(EnvPosition))
	if err != nil || position < 1 {
		fmt.Fprintf(os.Stderr, "invalid %s: %q\n", EnvPosition, os.Getenv(EnvPosition))
		return 1
	}
	signalName := os.Getenv(EnvSignal)
	sig, err := config.ParseSignal(signalName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	rel := relay.Install(position, sig)
	runErr := Run(Options{Position: position, SignalName: signalName}, rel)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
	}
	rel.Finalize()
	if runErr != nil {
		return 1
	}
	return 0
}

type logWatcher struct {
	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

func (w *logWatcher) append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
}

func (w *logWatcher) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}

// waitMatch polls the collected lines until one matches re, returning the
// submatches of the first hit.
func (w *logWatcher) waitMatch(t *testing.T, re *regexp.Regexp, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, line := range w.snapshot() {
			if m := re.FindStringSubmatch(line); m != nil {
				return m
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no line matching %v within %v; have %q", re, timeout, w.snapshot())
	return nil
}

// waitEOF blocks until every chain process has closed its copy of the
// shared stderr pipe, guaranteeing the watcher holds the complete log.
func (w *logWatcher) waitEOF(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(timeout):
		t.Fatalf("log stream still open after %v; have %q", timeout, w.snapshot())
	}
}

// startChain launches the test binary as the root of a depth-long chain.
// Every process in the chain inherits the same stderr pipe, so the watcher
// sees the interleaved log of the whole chain.
func startChain(t *testing.T, depth int) (*exec.Cmd, *logWatcher) {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	cmd := exec.Command(exe)
	cmd.Stderr = w
	cmd.Env = append(os.Environ(),
		EnvPosition+"="+strconv.Itoa(depth),
		EnvSignal+"=SIGUSR2",
	)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start chain root: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close pipe writer: %v", err)
	}

	watcher := &logWatcher{done: make(chan struct{})}
	go func() {
		defer close(watcher.done)
		defer r.Close()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			watcher.append(scanner.Text())
		}
	}()

	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	})

	return cmd, watcher
}

func waitWithTimeout(t *testing.T, cmd *exec.Cmd, timeout time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		t.Fatalf("pid %d did not exit within %v", cmd.Process.Pid, timeout)
		return nil
	}
}

func chainLine(position int, message string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^fork #%3d \(pid (\d+)\):\t%s$`, position, regexp.QuoteMeta(message)))
}

func TestChainTeardownFromLeaf(t *testing.T) {
	cmd, logs := startChain(t, 3)

	match := logs.waitMatch(t, chainLine(1, "last process awaiting signal"), 10*time.Second)
	leafPid, err := strconv.Atoi(match[1])
	if err != nil {
		t.Fatalf("parse leaf pid from %q: %v", match[0], err)
	}

	if err := unix.Kill(leafPid, unix.SIGUSR2); err != nil {
		t.Fatalf("signal leaf %d: %v", leafPid, err)
	}
	if err := waitWithTimeout(t, cmd, 10*time.Second); err != nil {
		t.Fatalf("root did not exit cleanly: %v", err)
	}
	logs.waitEOF(t, 10*time.Second)

	pids := map[int]string{}
	for _, expect := range []struct {
		position int
		message  string
	}{
		{3, "started"},
		{2, "started"},
		{1, "started"},
		{3, "waiting"},
		{2, "waiting"},
		{1, "caught signal"},
		{1, "exiting"},
		{2, "exiting"},
		{3, "exiting"},
	} {
		m := logs.waitMatch(t, chainLine(expect.position, expect.message), time.Second)
		pid, err := strconv.Atoi(m[1])
		if err != nil {
			t.Fatalf("parse pid from %q: %v", m[0], err)
		}
		if owner, claimed := pids[pid]; claimed {
			key := fmt.Sprintf("position %d", expect.position)
			if owner != key {
				t.Fatalf("pid %d logged for both %s and position %d", pid, owner, expect.position)
			}
		}
		pids[pid] = fmt.Sprintf("position %d", expect.position)
	}
	if len(pids) != 3 {
		t.Fatalf("expected 3 distinct chain pids, got %d: %v", len(pids), pids)
	}
}

func TestSignalToRootDoesNotTearDownChain(t *testing.T) {
	cmd, logs := startChain(t, 2)

	match := logs.waitMatch(t, chainLine(1, "last process awaiting signal"), 10*time.Second)
	leafPid, err := strconv.Atoi(match[1])
	if err != nil {
		t.Fatalf("parse leaf pid from %q: %v", match[0], err)
	}

	// Signal the root directly. It must record the signal and keep
	// waiting on its child: only a wait-observed child termination
	// propagates, never the recording itself.
	if err := cmd.Process.Signal(unix.SIGUSR2); err != nil {
		t.Fatalf("signal root: %v", err)
	}
	logs.waitMatch(t, chainLine(2, "caught signal"), 10*time.Second)

	time.Sleep(200 * time.Millisecond)
	if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
		t.Fatalf("root exited although its child is still alive: %v", err)
	}
	if err := unix.Kill(leafPid, 0); err != nil {
		t.Fatalf("leaf %d exited although only the root was signalled: %v", leafPid, err)
	}

	// Tearing down the leaf unblocks the root's wait; the root then
	// re-raises its recorded signal, so its exit status names SIGUSR2.
	if err := unix.Kill(leafPid, unix.SIGUSR2); err != nil {
		t.Fatalf("signal leaf %d: %v", leafPid, err)
	}
	err = waitWithTimeout(t, cmd, 10*time.Second)

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("root exit: got %v, want signal-terminated status", err)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		t.Fatalf("unexpected process state: %#v", exitErr.Sys())
	}
	if !status.Signaled() || status.Signal() != syscall.SIGUSR2 {
		t.Fatalf("root terminated with %v, want SIGUSR2", status)
	}
}

func TestSingleProcessChain(t *testing.T) {
	cmd, logs := startChain(t, 1)

	match := logs.waitMatch(t, chainLine(1, "last process awaiting signal"), 10*time.Second)
	if pid, err := strconv.Atoi(match[1]); err != nil || pid != cmd.Process.Pid {
		t.Fatalf("leaf pid %s, want the sole process %d", match[1], cmd.Process.Pid)
	}

	if err := cmd.Process.Signal(unix.SIGUSR2); err != nil {
		t.Fatalf("signal sole process: %v", err)
	}
	err := waitWithTimeout(t, cmd, 10*time.Second)
	logs.waitEOF(t, 10*time.Second)

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("sole process exit: got %v, want signal-terminated status", err)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() || status.Signal() != syscall.SIGUSR2 {
		t.Fatalf("sole process terminated with %v, want SIGUSR2", exitErr.Sys())
	}

	for _, line := range logs.snapshot() {
		if strings.Contains(line, "\twaiting") {
			t.Fatalf("single-process chain logged a wait: %q", line)
		}
	}
	logs.waitMatch(t, chainLine(1, "caught signal"), time.Second)
	logs.waitMatch(t, chainLine(1, "exiting"), time.Second)
}

func TestSpawnFailureSurfaces(t *testing.T) {
	rel := relay.Install(5, unix.SIGUSR1)
	defer rel.Stop()

	err := Run(Options{
		Position:   5,
		SignalName: "SIGUSR1",
		Executable: filepath.Join(t.TempDir(), "missing-binary"),
	}, rel)
	if err == nil || !strings.Contains(err.Error(), "spawn child") {
		t.Fatalf("got %v, want spawn failure", err)
	}
}
