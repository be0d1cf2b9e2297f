// Package daemon wires the agentmux components together and manages the
// process lifecycle: PID file, signals, and ordered shutdown.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// PIDFile is an exclusive claim on running the daemon. The file carries the
// process ID; the flock on it is what actually prevents a second daemon.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// AcquirePIDFile takes the daemon lock and records this process's PID.
// Fails when another live daemon holds the lock. A stale file from a crashed
// daemon is not an obstacle: its lock died with the process.
func AcquirePIDFile(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pid directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock pid file: %w", err)
	}
	if !locked {
		if pid, ok := ReadPIDFile(path); ok {
			return nil, fmt.Errorf("daemon already running (pid %d)", pid)
		}
		return nil, fmt.Errorf("daemon already running")
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	return &PIDFile{path: path, lock: lock}, nil
}

// Release removes the PID file and drops the lock. Safe to call more than
// once; every daemon exit path funnels through here.
func (p *PIDFile) Release() {
	if p == nil || p.lock == nil {
		return
	}
	_ = os.Remove(p.path)
	_ = p.lock.Unlock()
	p.lock = nil
}

// Path returns the PID file location.
func (p *PIDFile) Path() string {
	return p.path
}

// ReadPIDFile reads the recorded PID, reporting ok=false when the file is
// missing or malformed.
func ReadPIDFile(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
