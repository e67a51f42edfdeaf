// Package relay owns a process's terminating-signal contract. The handler
// side records the first delivery of the configured signal; the exit side
// re-delivers that signal to the process itself after restoring its default
// disposition, so the exit status a waiting parent observes names the
// original cause rather than an ordinary exit.
package relay

import (
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tonymke/prochain/internal/diag"
	"github.com/tonymke/prochain/internal/metrics"
)

// Relay tracks the single pending fatal signal for the current process.
type Relay struct {
	position int
	pending  atomic.Int32
	caught   chan struct{}
	notify   chan os.Signal
}

// Install registers a handler for sig and starts the goroutine that records
// deliveries. It must run before any chain activity so an early interrupt
// is never lost.
func Install(position int, sig unix.Signal) *Relay {
	r := &Relay{
		position: position,
		caught:   make(chan struct{}),
		notify:   make(chan os.Signal, 1),
	}
	signal.Notify(r.notify, sig)
	go r.record()
	return r
}

func (r *Relay) record() {
	for delivered := range r.notify {
		num, ok := delivered.(unix.Signal)
		if !ok {
			continue
		}
		if r.pending.CompareAndSwap(0, int32(num)) {
			diag.Logf(r.position, "caught signal")
			metrics.IncrementSignalsRelayed()
			close(r.caught)
		}
	}
}

// Caught is closed once the configured signal has been recorded. The leaf
// process blocks on it in place of pause(2).
func (r *Relay) Caught() <-chan struct{} {
	return r.caught
}

// Pending returns the recorded signal number, or zero when none arrived.
func (r *Relay) Pending() unix.Signal {
	return unix.Signal(r.pending.Load())
}

// Stop unregisters the handler. Real chain processes keep their relay for
// life; tests use Stop to avoid cross-test signal deliveries.
func (r *Relay) Stop() {
	signal.Stop(r.notify)
}

// Finalize is the orderly-exit hook. It logs the exit and, when a fatal
// signal is pending, restores the signal's default disposition and
// re-delivers it to the process. A process that survives the re-delivery
// terminates immediately with a failure status instead of re-entering any
// cleanup path.
func (r *Relay) Finalize() {
	sig := r.Pending()
	diag.Logf(r.position, "exiting")
	if sig == 0 {
		return
	}
	signal.Reset(sig)
	_ = unix.Kill(unix.Getpid(), sig)
	diag.Logf(r.position, "did not die after reraise! exiting directly")
	os.Exit(1)
}
