//go:build !windows

package client

import (
	"errors"
	"os"
	"strings"
	"syscall"
)

// isProcessRunning reports whether pid is alive by sending it signal 0
func isProcessRunning(pid int) (bool, string) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, "process not found"
	}

	err = process.Signal(syscall.Signal(0))
	if err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return false, "process has finished"
		}
		// EPERM: the process exists but belongs to someone else
		if strings.Contains(err.Error(), "operation not permitted") {
			return true, ""
		}
		return false, "cannot signal process"
	}
	return true, ""
}
