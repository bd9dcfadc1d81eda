package instance

import (
	"errors"
	"fmt"
)

// Shutdown ladder stages, in escalation order. They label logs, metrics and
// SignalError values.
const (
	StageGraceful  = "graceful"
	StageTerminate = "terminate"
	StageKill      = "kill"
)

// ErrNotRunning reports an operation against an instance whose process has
// already exited.
var ErrNotRunning = errors.New("instance not running")

// errEarlyExit marks a process that died inside the startup grace window.
var errEarlyExit = errors.New("process exited during startup grace window")

// LaunchError reports a spawn that failed at the OS level or a process that
// died before the startup grace window elapsed. Output holds the console
// lines captured before death, for diagnostics.
type LaunchError struct {
	Name     string
	ExitCode int
	Output   []string
	Err      error
}

func (e *LaunchError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("launch %s: %v (exit code %d)", e.Name, e.Err, e.ExitCode)
	}
	return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// CommandError reports a console command that could not be delivered,
// usually because the process exited or closed its stdin.
type CommandError struct {
	Name string
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("send command to %s: %v", e.Name, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// SignalError reports an OS-level signalling failure during the shutdown
// ladder. "Process already gone" is never a SignalError.
type SignalError struct {
	Name  string
	Stage string
	Err   error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("stop %s at stage %s: %v", e.Name, e.Stage, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }
