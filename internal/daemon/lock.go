// Package daemon provides the single-writer process lock and hot-reload watch that
// guard the store file. One process owns the store file at a time; there is no
// fleet/multi-daemon registry, since this store has nothing to federate.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Lock is an exclusive, PID-scoped file lock on a workspace's store directory. Only
// the process holding Lock may open the store file for writing; a second process
// attempting to acquire the same lock fails fast rather than corrupting the store.
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock returns a Lock for the given storage directory's lock file. The directory
// must already exist.
func NewLock(storageDir string) *Lock {
	return &Lock{path: filepath.Join(storageDir, "daemon.lock")}
}

// TryAcquire attempts to take the lock without blocking. It reports false, nil when
// another live process already holds it.
func (l *Lock) TryAcquire() (bool, error) {
	l.fl = flock.New(l.path)
	locked, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire daemon lock %s: %w", l.path, err)
	}
	return locked, nil
}

// Release drops the lock. Safe to call on a Lock that never acquired.
func (l *Lock) Release() error {
	if l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// WritePIDFile records the current process id alongside the lock so `status`-style
// callers can report who holds it without needing an RPC round trip.
func WritePIDFile(storageDir string) error {
	path := filepath.Join(storageDir, "daemon.pid")
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// ReadPIDFile returns the PID recorded by WritePIDFile, or 0 if none is on disk.
func ReadPIDFile(storageDir string) int {
	data, err := os.ReadFile(filepath.Join(storageDir, "daemon.pid"))
	if err != nil {
		return 0
	}
	var pid int
	_, _ = fmt.Sscanf(string(data), "%d", &pid)
	return pid
}

// StartedAt is recorded once at process start. OpStatus does not read it; its uptime
// comes from the RPC server's own StartedAtMs.
var StartedAt = time.Now()
