package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/berrythewa/pastesync/pkg/utils"
)

var ErrNotRunning = errors.New("pastesync is not running")

// PIDFile is the pid file location under dataDir.
func PIDFile(dataDir string) string {
	return filepath.Join(dataDir, "run", "pastesync.pid")
}

// WritePID records the current process. The returned func removes the file.
func WritePID(path string) (func(), error) {
	if pid, err := RunningPID(path); err == nil {
		return nil, fmt.Errorf("already running with PID %d", pid)
	}
	if err := utils.WriteFileAtomic(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return func() { os.Remove(path) }, nil
}

// RunningPID returns the pid recorded in path if that process is alive.
func RunningPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w (invalid PID file)", ErrNotRunning)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, ErrNotRunning
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("%w (process %d not alive)", ErrNotRunning, pid)
	}
	return pid, nil
}

// Stop asks the recorded process to shut down.
func Stop(path string) (int, error) {
	pid, err := RunningPID(path)
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		return 0, fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return pid, nil
}
