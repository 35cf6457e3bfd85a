package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// pidFile records the daemon's process ID in the data directory.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "opscribe.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", p)
	}
	return pid, nil
}

func (p pidFile) remove() {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		printWarning("could not remove %s: %v", p, err)
	}
}

// live returns the recorded PID when that process still exists. A stale
// file left by a crashed daemon is removed.
func (p pidFile) live() (int, bool) {
	pid, err := p.read()
	if err != nil {
		return 0, false
	}
	if !processAlive(pid) {
		p.remove()
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// waitExit polls until pid is gone or timeout passes.
func waitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !processAlive(pid)
}
