// Package lockfile implements the single-instance guard (C8): a
// create-exclusive PID file with stale-holder detection (spec.md §4.8).
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/nishisan-dev/egd/internal/egderr"
)

// Lock represents an acquired lock file. Release must be called on
// shutdown to close and remove it.
type Lock struct {
	path string
	file *os.File
}

// ErrAlreadyRunning is returned by Acquire when a live process already
// holds the lock.
var ErrAlreadyRunning error = egderr.Fat("lockfile", "DAEMON_ALREADY_RUNNING", "a live process holds the lock file", nil)

// Acquire opens path with create-exclusive, owner-only (0600) semantics.
// If the file exists and its recorded PID is alive, it returns
// ErrAlreadyRunning unless force is true. Otherwise it treats the
// existing file as stale, removes it, and retries acquisition once.
func Acquire(path string, force bool) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err == nil {
		return finish(path, f)
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("creating lock file %s: %w", path, err)
	}

	pid, readErr := readPID(path)
	if readErr == nil && isAlive(pid) {
		if !force {
			return nil, ErrAlreadyRunning
		}
		// --force bypasses the liveness check; the operator accepts
		// responsibility for a potential second instance.
	}

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("removing stale lock file %s: %w", path, err)
	}

	f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("re-creating lock file %s: %w", path, err)
	}
	return finish(path, f)
}

func finish(path string, f *os.File) (*Lock, error) {
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing pid to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("syncing lock file: %w", err)
	}
	return &Lock{path: path, file: f}, nil
}

// Release closes and removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	closeErr := l.file.Close()
	removeErr := os.Remove(l.path)
	if closeErr != nil {
		return closeErr
	}
	return removeErr
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in lock file: %w", err)
	}
	return pid, nil
}

// isAlive reports whether pid refers to a running process, by sending
// signal 0 (no-op, delivery-checking-only on POSIX).
func isAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
