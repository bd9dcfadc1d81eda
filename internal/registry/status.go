package registry

import (
	"errors"
	"sort"
	"time"

	"github.com/loykin/warden/internal/inspect"
	"github.com/loykin/warden/internal/instance"
)

// Status is a point-in-time snapshot of one instance. Resource values come
// from a fresh workload inspection on every call and are zero when the
// instance is not running or the query failed.
type Status struct {
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	State       string    `json:"state"`
	PID         int       `json:"pid,omitempty"`
	WorkloadPID int32     `json:"workload_pid,omitempty"` // selected JVM, may differ from PID under wrapper scripts
	StartedAt   time.Time `json:"started_at"`
	UptimeSec   float64   `json:"uptime_seconds,omitempty"`
	CPUPercent  float64   `json:"cpu_percent,omitempty"`
	MemoryBytes uint64    `json:"memory_bytes,omitempty"`
	ExitCode    int       `json:"exit_code,omitempty"`
}

// GetStatus snapshots name. Unknown names and stopped definitions yield a
// zero snapshot with Running=false; a process that vanishes between the
// liveness check and the resource query is reported the same way instead of
// as an error.
func (r *Registry) GetStatus(name string) Status {
	inst := r.instanceOf(name)
	if inst == nil {
		return stoppedStatus(name)
	}

	st := Status{
		Name:      name,
		State:     inst.State().String(),
		PID:       inst.PID(),
		StartedAt: inst.StartedAt(),
	}
	if code, exited := inst.ExitResult(); exited {
		st.ExitCode = code
		return st
	}
	st.Running = true

	// resource query runs with no registry lock held
	u, err := r.inspector.Inspect(int32(st.PID))
	switch {
	case err == nil:
		st.WorkloadPID = u.PID
		st.CPUPercent = u.CPUPercent
		st.MemoryBytes = u.MemoryRSS
		st.UptimeSec = u.Uptime.Seconds()
	case errors.Is(err, inspect.ErrNotRunning):
		return stoppedStatus(name)
	default:
		r.log.Warn("resource query failed", "name", name, "err", err)
		st.UptimeSec = time.Since(inst.StartedAt()).Seconds()
	}
	return st
}

// List snapshots every known name: live instances plus stopped definitions,
// sorted by name.
func (r *Registry) List() []Status {
	r.mu.RLock()
	names := make(map[string]struct{}, len(r.defs)+len(r.live))
	for name := range r.defs {
		names[name] = struct{}{}
	}
	for name := range r.live {
		names[name] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(names))
	for name := range names {
		out = append(out, r.GetStatus(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func stoppedStatus(name string) Status {
	return Status{Name: name, State: instance.StateStopped.String()}
}
