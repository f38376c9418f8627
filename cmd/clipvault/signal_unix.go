//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals returns the signals that stop a foreground daemon or server.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}

// terminateSignal returns the signal `clipvault stop` sends to the daemon.
func terminateSignal() os.Signal {
	return syscall.SIGTERM
}

// detachedProcAttr starts the background daemon in its own session so it
// outlives the terminal.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// disableCoreDumps sets RLIMIT_CORE to 0 so keys never land in a core file.
func disableCoreDumps() error {
	var rLimit syscall.Rlimit
	rLimit.Cur = 0
	rLimit.Max = 0
	return syscall.Setrlimit(syscall.RLIMIT_CORE, &rLimit)
}
