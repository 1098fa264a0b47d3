//go:build unix

package main

import (
	"os"
	"syscall"
)

// resumeSignals are delivered when the process returns to the foreground.
func resumeSignals() []os.Signal {
	return []os.Signal{syscall.SIGCONT}
}
