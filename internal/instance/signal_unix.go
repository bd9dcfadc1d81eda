//go:build !windows

package instance

import (
	"errors"
	"syscall"
)

// terminateTree sends SIGTERM to the instance's process group.
func terminateTree(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// killTree sends SIGKILL to the instance's process group.
func killTree(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		// already gone counts as delivered
		return nil
	}
	return err
}
