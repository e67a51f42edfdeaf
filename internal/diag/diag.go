// Package diag emits the single-line status records every process in the
// chain writes to the standard error stream.
//
// Lines are capped at one memory page so that concurrent emission from
// several chain processes sharing a terminal stays effectively atomic. The
// logger is strictly best-effort: any internal failure abandons the one log
// call and never disturbs the caller. It holds no state between calls, so
// it is safe to invoke from the signal-relay goroutine while another
// goroutine is mid-call.
package diag

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Logf writes one status line to stderr in the form
//
//	fork #<position, padded to 3 columns> (pid <pid>):\t<message>\n
//
// The caller-supplied message is truncated as needed to keep the whole line
// within a single page, and the line always ends with exactly one newline.
func Logf(position int, format string, args ...any) {
	page := unix.Getpagesize()
	if page <= 0 {
		fmt.Fprintln(os.Stderr, "log: indeterminate page size")
		return
	}

	buf := make([]byte, 0, page)
	buf = fmt.Appendf(buf, "fork #%3d (pid %d):\t", position, os.Getpid())
	if len(buf) >= page {
		// The preamble fits in a page on every supported system; treat
		// overflow as a programming error and drop the line.
		fmt.Fprintln(os.Stderr, "log: preamble overflow")
		return
	}

	buf = fmt.Appendf(buf, format, args...)
	if len(buf) > page-1 {
		buf = buf[:page-1]
	}
	buf = append(buf, '\n')

	// Loss of a line is acceptable; a failed write must not surface.
	_, _ = os.Stderr.Write(buf)
}
