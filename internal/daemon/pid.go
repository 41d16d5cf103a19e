// Package daemon manages the gateway PID lock file and process
// termination for the stop/restart commands.
package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when a live gateway holds
// the lock.
type ErrAlreadyRunning struct {
	PID int
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("gateway already running (pid %d)", e.PID)
}

// Acquire writes the current process ID into the lock file. A stale
// lock (dead process) is replaced with a warning; a live one refuses
// startup.
func Acquire(path string) error {
	if pid, err := ReadPID(path); err == nil {
		if Alive(pid) {
			return &ErrAlreadyRunning{PID: pid}
		}
		slog.Warn("daemon: removing stale pid file", "path", path, "pid", pid)
		os.Remove(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release removes the lock file.
func Release(path string) {
	os.Remove(path)
}

// ReadPID parses the process ID from the lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", path, data)
	}
	return pid, nil
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// Terminate sends SIGTERM to the locked process and waits up to
// timeout for it to exit. With force, a surviving process gets
// SIGKILL. The lock file is removed once the process is gone.
func Terminate(path string, timeout time.Duration, force bool) error {
	pid, err := ReadPID(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("gateway not running (no pid file)")
		}
		return err
	}
	if !Alive(pid) {
		slog.Warn("daemon: removing stale pid file", "path", path, "pid", pid)
		os.Remove(path)
		return fmt.Errorf("gateway not running (stale pid %d)", pid)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			os.Remove(path)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if !force {
		return fmt.Errorf("gateway (pid %d) did not exit within %s", pid, timeout)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	time.Sleep(200 * time.Millisecond)
	os.Remove(path)
	return nil
}
