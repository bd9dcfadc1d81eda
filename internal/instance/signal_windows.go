//go:build windows

package instance

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// Windows has no SIGTERM; both ladder stages end up in TerminateProcess,
// so the effective ladder is stop command -> terminate.
func terminateTree(pid int) error {
	return terminateProcess(pid)
}

func killTree(pid int) error {
	return terminateProcess(pid)
}

func terminateProcess(pid int) error {
	if pid <= 0 {
		return nil
	}
	h, _, err := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(uint32(pid)))
	if h == 0 {
		// cannot open: the process is gone
		_ = err
		return nil
	}
	defer func() { _, _, _ = procCloseHandle.Call(h) }()
	if ret, _, err := procTerminateProcess.Call(h, uintptr(1)); ret == 0 {
		return err
	}
	return nil
}
