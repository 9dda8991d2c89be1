// Package lock enforces the single-instance policy: at most one sync engine
// active against a given sync root, via an advisory file lock.
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrAlreadyLocked means another live process holds the lock.
var ErrAlreadyLocked = errors.New("lock: another instance is already running")

// File permissions for the lock file and its parent directory.
const (
	lockFilePermissions = 0o644
	lockDirPermissions  = 0o755
)

// Handle is an acquired instance lock. Release it on every exit path; the
// kernel drops the flock on abnormal termination, so a crashed owner never
// wedges the lock.
type Handle struct {
	fl     *flock.Flock
	path   string
	logger *slog.Logger
}

// Acquire takes the advisory lock at path without blocking. On contention
// it reports the owning PID when one can be read from the lock file. The
// PID written into the file is informational only; liveness is enforced by
// the flock itself, so stale files from crashed processes are reclaimed
// automatically.
func Acquire(path string, logger *slog.Logger) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("lock: creating lock directory: %w", err)
	}

	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock: acquiring %s: %w", path, err)
	}

	if !locked {
		return nil, contentionError(path)
	}

	// Record our PID for the contention message of the next instance.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), lockFilePermissions); err != nil {
		logger.Warn("could not write PID into lock file", slog.String("error", err.Error()))
	}

	logger.Debug("instance lock acquired", slog.String("path", path))

	return &Handle{fl: fl, path: path, logger: logger}, nil
}

// contentionError builds an ErrAlreadyLocked naming the live owner if the
// lock file holds a readable PID.
func contentionError(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w (lock file %s)", ErrAlreadyLocked, path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("%w (lock file %s)", ErrAlreadyLocked, path)
	}

	alive, err := process.PidExists(int32(pid))
	if err == nil && !alive {
		// The flock is held but the recorded PID is gone: the file content
		// is stale (e.g. inherited descriptor). Report without the PID.
		return fmt.Errorf("%w (lock file %s, recorded owner PID %d no longer exists)", ErrAlreadyLocked, path, pid)
	}

	return fmt.Errorf("%w (held by PID %d, lock file %s)", ErrAlreadyLocked, pid, path)
}

// Release drops the lock and removes the lock file. Safe to call once on
// every exit path.
func (h *Handle) Release() {
	if h == nil || h.fl == nil {
		return
	}

	if err := h.fl.Unlock(); err != nil {
		h.logger.Warn("releasing instance lock failed", slog.String("error", err.Error()))
	}

	os.Remove(h.path)
	h.fl = nil

	h.logger.Debug("instance lock released", slog.String("path", h.path))
}
