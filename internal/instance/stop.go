package instance

import "time"

// Stop drives the shutdown ladder: console stop command, SIGTERM to the
// process group, SIGKILL to the process group. Each escalation happens only
// after the previous stage's timeout elapsed without an exit. After SIGKILL
// the call waits until the OS confirms the exit.
//
// Stop is safe to call repeatedly and concurrently; the first caller runs
// the ladder, later callers just wait for the exit it produces. The returned
// error is non-nil only for OS-level signalling failures ("process already
// gone" is success).
func (in *Instance) Stop() error {
	in.mu.Lock()
	if in.state == StateStopped {
		in.mu.Unlock()
		return nil
	}
	if in.stopping {
		in.mu.Unlock()
		<-in.waitDone
		return nil
	}
	in.stopping = true
	in.state = StateStopping
	in.mu.Unlock()

	name := in.spec.Name

	if err := in.SendCommand(in.spec.StopCommand); err != nil {
		// keep climbing the ladder; a closed stdin usually means the
		// process is on its way out already
		in.log.Warn("stop command not delivered", "name", name, "command", in.spec.StopCommand, "err", err)
	} else {
		in.log.Info("stop command sent", "name", name, "command", in.spec.StopCommand)
	}
	if in.waitExit(in.spec.StopTimeout) {
		return nil
	}

	in.escalate(StageTerminate)
	in.log.Warn("graceful stop timed out, terminating process group", "name", name, "waited", in.spec.StopTimeout)
	if err := terminateTree(in.PID()); err != nil {
		return &SignalError{Name: name, Stage: StageTerminate, Err: err}
	}
	if in.waitExit(in.spec.TermTimeout) {
		return nil
	}

	in.escalate(StageKill)
	in.log.Warn("terminate timed out, killing process group", "name", name, "waited", in.spec.TermTimeout)
	if err := killTree(in.PID()); err != nil {
		return &SignalError{Name: name, Stage: StageKill, Err: err}
	}
	<-in.waitDone
	return nil
}

func (in *Instance) waitExit(d time.Duration) bool {
	select {
	case <-in.waitDone:
		return true
	case <-time.After(d):
		return false
	}
}

func (in *Instance) escalate(stage string) {
	if in.onEscalate != nil {
		in.onEscalate(in.spec.Name, stage)
	}
}
