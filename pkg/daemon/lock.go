package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrDaemonAlreadyRunning means another process holds the instance lock.
var ErrDaemonAlreadyRunning = errors.New("daemon: already running")

var errLocked = errors.New("daemon: lock held")

// LockPath returns the instance lock file for a vault.
func LockPath(vaultPath string) string {
	return vaultPath + ".daemon.lock"
}

// Lock is a held instance lock. The OS releases it if the process dies, so
// a stale file never blocks a new daemon.
type Lock struct {
	f    *os.File
	path string
}

// AcquireLock takes the exclusive instance lock at path without blocking
// and records the current PID in it.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("daemon: failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("daemon: failed to open lock file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		if errors.Is(err, errLocked) {
			return nil, ErrDaemonAlreadyRunning
		}
		return nil, fmt.Errorf("daemon: failed to lock %s: %w", path, err)
	}

	if err := writePID(f); err != nil {
		_ = unlock(f)
		f.Close()
		return nil, fmt.Errorf("daemon: failed to record pid: %w", err)
	}
	return &Lock{f: f, path: path}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release clears the PID and drops the lock. The file itself stays.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadPID returns the PID recorded in the lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, fmt.Errorf("daemon: no pid recorded in %s", path)
	}
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon: invalid pid %q in %s", s, path)
	}
	return pid, nil
}

// Running reports whether a daemon holds the lock at path and, if so, its
// PID (0 when it could not be read).
func Running(path string) (int, bool) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	if err := tryLock(f); err == nil {
		_ = unlock(f)
		return 0, false
	} else if !errors.Is(err, errLocked) {
		return 0, false
	}
	pid, _ := ReadPID(path)
	return pid, true
}
