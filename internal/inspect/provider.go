package inspect

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotRunning reports that the inspected root process does not exist
// (or vanished between the liveness check and the query).
var ErrNotRunning = errors.New("process not running")

// QueryError wraps a per-process query failure that is not a plain
// "process is gone".
type QueryError struct {
	PID int32
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("resource query for pid %d: %v", e.PID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Proc exposes the per-process facts the selection logic needs.
// Every accessor may fail when the process exits mid-query; callers are
// expected to skip such processes rather than abort.
type Proc interface {
	PID() int32
	Name() (string, error)
	Cmdline() (string, error)
	RSS() (uint64, error)
	CPUPercent() (float64, error)
	CreateTime() (time.Time, error)
	Children() ([]Proc, error)
}

// Provider opens a process by PID. The production implementation reads the
// live system; tests substitute a fake tree.
type Provider interface {
	Open(pid int32) (Proc, error)
}
