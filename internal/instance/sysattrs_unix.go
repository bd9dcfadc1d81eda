//go:build !windows

package instance

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so the
// shutdown ladder can signal the whole wrapper-script tree at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
