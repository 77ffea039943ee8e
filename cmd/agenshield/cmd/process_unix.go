//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals lists the signals that trigger a clean daemon shutdown:
// SIGINT from a terminal Ctrl+C, SIGTERM from "agenshield stop" or an
// init system.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive probes a PID with the null signal. os.FindProcess always
// succeeds on Unix, so this is the actual liveness check.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// sendGracefulStop delivers SIGTERM, the same signal the daemon's signal
// context listens for.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
