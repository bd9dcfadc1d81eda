//go:build windows

package instance

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr detaches the child into its own process group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
