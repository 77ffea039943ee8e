//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the Windows exit code of a process that has not exited.
const stillActive = 259

// gracefulSignals lists the signals that trigger a clean daemon shutdown.
// Windows only delivers os.Interrupt (Ctrl+C); there is no SIGTERM.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive asks the kernel for the process exit code; a process
// that reports stillActive has not exited.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}

// sendGracefulStop ends the process. Without SIGTERM the closest Windows
// equivalent is TerminateProcess, which Kill wraps.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
