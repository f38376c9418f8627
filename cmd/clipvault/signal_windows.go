//go:build windows

package main

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// shutdownSignals returns the signals that stop a foreground daemon or server.
// On Windows, only os.Interrupt is available (Ctrl+C).
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// terminateSignal returns the signal `clipvault stop` sends to the daemon.
// Windows has no SIGTERM equivalent.
func terminateSignal() os.Signal {
	return os.Kill
}

// detachedProcAttr starts the background daemon without a console.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
}

// disableCoreDumps is a no-op on Windows.
// Windows Error Reporting handles crash dumps and doesn't use RLIMIT_CORE.
func disableCoreDumps() error {
	return nil
}
