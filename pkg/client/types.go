package client

import (
	"fmt"
	"time"
)

// Spec describes how to launch one instance. Duration fields ride JSON
// as nanoseconds, matching Go's time.Duration encoding on the daemon.
type Spec struct {
	Name         string        `json:"name"`
	Program      string        `json:"program"`
	Args         []string      `json:"args,omitempty"`
	Dir          string        `json:"dir,omitempty"`
	Env          []string      `json:"env,omitempty"`
	StopCommand  string        `json:"stop_command,omitempty"`
	StartupGrace time.Duration `json:"startup_grace,omitempty"`
	StopTimeout  time.Duration `json:"stop_timeout,omitempty"`
	TermTimeout  time.Duration `json:"term_timeout,omitempty"`
	BufferLines  int           `json:"buffer_lines,omitempty"`
	ConsoleLog   string        `json:"console_log,omitempty"`
	Signature    string        `json:"signature,omitempty"`
	Markers      []string      `json:"markers,omitempty"`
}

// Status is one instance snapshot as reported by the daemon.
type Status struct {
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	State       string    `json:"state"`
	PID         int       `json:"pid,omitempty"`
	WorkloadPID int32     `json:"workload_pid,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UptimeSec   float64   `json:"uptime_seconds,omitempty"`
	CPUPercent  float64   `json:"cpu_percent,omitempty"`
	MemoryBytes uint64    `json:"memory_bytes,omitempty"`
	ExitCode    int       `json:"exit_code,omitempty"`
}

// Event is one lifecycle history record.
type Event struct {
	EventID    string    `json:"event_id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Clean      bool      `json:"clean"`
	OccurredAt time.Time `json:"occurred_at"`
}

// APIError is a non-2xx daemon response. For launch failures the
// daemon attaches the exit code and captured console output.
type APIError struct {
	StatusCode int
	Message    string
	ExitCode   *int
	Output     []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon responded %d: %s", e.StatusCode, e.Message)
}
