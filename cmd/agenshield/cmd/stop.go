package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// stopWaitTimeout is how long "stop" waits for a clean exit before
// escalating to a hard kill.
const stopWaitTimeout = 10 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running AgenShield daemon",
	Long: `Stop a running AgenShield daemon.

The daemon records its PID in ~/.agenshield/daemon.pid on start. Stop
asks it to shut down cleanly, which releases the egress proxy pool and
closes storage before exiting; a daemon that does not exit within ` + stopWaitTimeout.String() + `
is killed.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no daemon PID file at %s; is the daemon running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil || !processIsAlive(proc) {
		// Stale record from an unclean exit.
		os.Remove(pidPath)
		return fmt.Errorf("daemon process %d is not running (removed stale PID file)", pid)
	}

	fmt.Fprintf(os.Stderr, "asking daemon (pid %d) to shut down\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	if waitForExit(proc, stopWaitTimeout) {
		os.Remove(pidPath)
		fmt.Fprintln(os.Stderr, "daemon stopped")
		return nil
	}

	fmt.Fprintln(os.Stderr, "daemon did not exit in time, killing")
	_ = proc.Kill()
	os.Remove(pidPath)
	return nil
}

// waitForExit polls until the process is gone or the timeout elapses.
func waitForExit(proc *os.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		if !processIsAlive(proc) {
			return true
		}
	}
	return false
}
