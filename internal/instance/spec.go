package instance

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/loykin/warden/internal/console"
)

// Defaults applied by Spec.Normalize. The stop command and the workload
// selection values match stock Minecraft-style servers; everything is
// overridable per instance.
const (
	DefaultStopCommand  = "stop"
	DefaultStartupGrace = 100 * time.Millisecond
	DefaultStopTimeout  = 5 * time.Second
	DefaultTermTimeout  = 5 * time.Second
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Spec describes how to launch, talk to and shut down one game server.
// Program and Args are executed verbatim; resolving which artifact to run
// happens before a Spec is built. A wrapper script as Program is fine, the
// resource inspector finds the real workload underneath it.
type Spec struct {
	Name         string        `json:"name"`
	Program      string        `json:"program"`                 // binary or script to execute
	Args         []string      `json:"args,omitempty"`          // arguments, passed verbatim
	Dir          string        `json:"dir,omitempty"`           // working directory
	Env          []string      `json:"env,omitempty"`           // extra KEY=VALUE pairs on top of the parent env
	StopCommand  string        `json:"stop_command,omitempty"`  // console command tried first on Stop
	StartupGrace time.Duration `json:"startup_grace,omitempty"` // how long the process must survive after spawn
	StopTimeout  time.Duration `json:"stop_timeout,omitempty"`  // wait after the stop command before SIGTERM
	TermTimeout  time.Duration `json:"term_timeout,omitempty"`  // wait after SIGTERM before SIGKILL
	BufferLines  int           `json:"buffer_lines,omitempty"`  // console buffer capacity
	ConsoleLog   string        `json:"console_log,omitempty"`   // optional rotating capture file
	Signature    string        `json:"signature,omitempty"`     // workload process-name prefix
	Markers      []string      `json:"markers,omitempty"`       // workload command-line markers
}

// Normalize fills zero fields with defaults.
func (s *Spec) Normalize() {
	if s.StopCommand == "" {
		s.StopCommand = DefaultStopCommand
	}
	if s.StartupGrace <= 0 {
		s.StartupGrace = DefaultStartupGrace
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.TermTimeout <= 0 {
		s.TermTimeout = DefaultTermTimeout
	}
	if s.BufferLines <= 0 {
		s.BufferLines = console.DefaultCapacity
	}
}

// Validate rejects specs that cannot identify or launch an instance.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.New("spec: name is required")
	}
	if !nameRe.MatchString(s.Name) {
		return fmt.Errorf("spec: invalid name %q (allowed: letters, digits, dot, dash, underscore)", s.Name)
	}
	if s.Program == "" {
		return fmt.Errorf("spec %s: program is required", s.Name)
	}
	return nil
}
