// Package lockfile keeps a single automation service bound to a state
// directory, so two browsers never write the same session.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created in the state directory
const FileName = "console-automator.lock"

// Lock is a held directory lock
type Lock struct {
	file   *os.File
	path   string
	logger *slog.Logger
}

// Acquire takes an exclusive, non-blocking flock on stateDir. The kernel
// drops the lock if the process dies.
func Acquire(stateDir string, logger *slog.Logger) (*Lock, error) {
	path := filepath.Join(stateDir, FileName)

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// no O_TRUNC: a losing process must not wipe the holder's pid
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, &LockError{Path: path, Holder: describeHolder(path), Cause: err}
	}

	if err := file.Truncate(0); err != nil {
		unlock(file)
		return nil, fmt.Errorf("failed to reset lock file %s: %w", path, err)
	}
	if _, err := file.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0); err != nil {
		unlock(file)
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		logger.Warn("Failed to sync lock file", slog.String("path", path), slog.String("error", err.Error()))
	}

	logger.Info("State directory locked", slog.String("path", path), slog.Int("pid", os.Getpid()))
	return &Lock{file: file, path: path, logger: logger}, nil
}

func unlock(file *os.File) {
	_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	file.Close()
}

// Release clears the recorded pid and unlocks. The file itself stays so
// every instance contends on the same inode. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	if err := l.file.Truncate(0); err != nil {
		l.logger.Warn("Failed to clear lock file", slog.String("path", l.path), slog.String("error", err.Error()))
	}
	unlock(l.file)
	l.file = nil

	l.logger.Info("State directory unlocked", slog.String("path", l.path))
	return nil
}

// LockError is returned when another process holds the lock
type LockError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *LockError) Error() string {
	msg := "another console-automator instance is using this state directory (lock file " + e.Path + ")"
	if e.Holder != "" {
		msg += ": " + e.Holder
	}
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}

	pid := parsePID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d (running)", pid)
	}
	return fmt.Sprintf("pid %d (not running)", pid)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid="); ok {
			if pid, err := strconv.Atoi(v); err == nil {
				return pid
			}
		}
	}
	return 0
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 probes without delivering
	return process.Signal(syscall.Signal(0)) == nil
}
