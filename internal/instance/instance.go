// Package instance owns a single supervised game-server process: spawning,
// console streaming, stdin forwarding, exit detection and the escalating
// shutdown ladder. Exactly one waiter goroutine reaps each process, so exits
// are observed event-driven rather than by polling.
package instance

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/warden/internal/console"
)

const (
	// maxLineBytes caps a single console line; longer lines are truncated
	// and flagged instead of aborting the reader.
	maxLineBytes = 256 * 1024
	// sendTimeout bounds a stdin write against a stalled child.
	sendTimeout = 2 * time.Second
	// drainTimeout bounds the wait for pipe EOF after the process exited,
	// in case an escaped descendant still holds the write end.
	drainTimeout = 1 * time.Second
)

// Options carries the supervisor-level wiring for a launch. All callbacks
// are optional and must not block; they run on the instance's goroutines.
type Options struct {
	Logger *slog.Logger
	// OnExit runs on the waiter goroutine after the exit is recorded and
	// the console fully drained.
	OnExit func(*Instance)
	// OnLine runs on the reader goroutine for every captured console line.
	OnLine func(name, line string)
	// OnEscalate runs when the shutdown ladder moves past the graceful
	// stage.
	OnEscalate func(name, stage string)
	// Capture receives a copy of every console line; closed by the reader
	// at EOF. Typically a rotating file writer.
	Capture io.WriteCloser
}

// Instance is a live supervised process. Create with Launch; an Instance is
// never reused after its process exits.
type Instance struct {
	spec  Spec
	cmd   *exec.Cmd
	stdin *os.File // write end of the child's stdin pipe
	out   *os.File // read end of the merged stdout+stderr pipe
	buf   *console.Buffer
	log   *slog.Logger

	onExit     func(*Instance)
	onLine     func(name, line string)
	onEscalate func(name, stage string)
	capture    io.WriteCloser

	sendMu sync.Mutex // serializes stdin writes

	mu       sync.Mutex
	state    State
	started  time.Time
	exitedAt time.Time
	exitCode int
	stopping bool

	readerDone chan struct{}
	waitDone   chan struct{} // closed after exit bookkeeping is complete
}

// Launch spawns the process described by spec and returns a live Instance.
// stdout and stderr are merged into one stream; the child gets its own
// process group so shutdown signals reach wrapper-script descendants.
//
// After a successful OS-level start the process must survive spec's startup
// grace window. A process that dies inside the window is reported as a
// LaunchError carrying the exit code and everything it wrote, and no
// Instance is handed out.
func Launch(spec Spec, opts Options) (*Instance, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		closeQuiet(opts.Capture)
		return nil, &LaunchError{Name: spec.Name, ExitCode: -1, Err: err}
	}

	// #nosec G204 -- program and args come from an operator-provided spec
	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	// Both pipes are raw os.Pipe pairs: the stdin write end stays an
	// *os.File so SendCommand can arm write deadlines on it.
	inR, inW, err := os.Pipe()
	if err != nil {
		closeQuiet(opts.Capture)
		return nil, &LaunchError{Name: spec.Name, ExitCode: -1, Err: err}
	}
	cmd.Stdin = inR
	pr, pw, err := os.Pipe()
	if err != nil {
		closeQuiet(inR, inW, opts.Capture)
		return nil, &LaunchError{Name: spec.Name, ExitCode: -1, Err: err}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	in := &Instance{
		spec:       spec,
		cmd:        cmd,
		stdin:      inW,
		out:        pr,
		buf:        console.NewBuffer(spec.BufferLines),
		log:        opts.Logger,
		onExit:     opts.OnExit,
		onLine:     opts.OnLine,
		onEscalate: opts.OnEscalate,
		capture:    opts.Capture,
		state:      StateStarting,
		exitCode:   -1,
		readerDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
	}
	if in.log == nil {
		in.log = slog.Default()
	}

	if err := cmd.Start(); err != nil {
		closeQuiet(inR, inW, pr, pw, opts.Capture)
		return nil, &LaunchError{Name: spec.Name, ExitCode: -1, Err: err}
	}
	// The child holds its own copies of both pipe ends now; release ours
	// so the reader sees EOF when the tree exits.
	_ = pw.Close()
	_ = inR.Close()

	in.mu.Lock()
	in.started = time.Now()
	in.mu.Unlock()

	go in.readLoop()
	go in.waitLoop()

	select {
	case <-in.waitDone:
		code, _ := in.ExitResult()
		return nil, &LaunchError{Name: spec.Name, ExitCode: code, Output: in.buf.Drain(), Err: errEarlyExit}
	case <-time.After(spec.StartupGrace):
	}

	in.mu.Lock()
	if in.state == StateStarting {
		in.state = StateRunning
	}
	in.mu.Unlock()
	in.log.Info("instance started", "name", spec.Name, "pid", in.PID(), "program", spec.Program)
	return in, nil
}

// readLoop splits the merged output stream into lines and feeds the console
// buffer (and the capture writer, when set). Overlong lines are truncated and
// logged; a read failure ends the loop without touching the process.
func (in *Instance) readLoop() {
	defer close(in.readerDone)
	if in.capture != nil {
		defer closeQuiet(in.capture)
	}

	br := bufio.NewReaderSize(in.out, 32*1024)
	line := make([]byte, 0, 256)
	truncated := false
	for {
		frag, isPrefix, err := br.ReadLine()
		if len(frag) > 0 {
			if room := maxLineBytes - len(line); room > 0 {
				if len(frag) > room {
					frag = frag[:room]
					truncated = true
				}
				line = append(line, frag...)
			} else {
				truncated = true
			}
		}
		if err != nil {
			if len(line) > 0 {
				in.emit(string(line), truncated)
			}
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				in.log.Debug("console reader stopped", "name", in.spec.Name, "err", err)
			}
			return
		}
		if isPrefix {
			continue
		}
		in.emit(string(line), truncated)
		line = line[:0]
		truncated = false
	}
}

func (in *Instance) emit(line string, truncated bool) {
	if truncated {
		in.log.Warn("console line truncated", "name", in.spec.Name, "limit_bytes", maxLineBytes)
	}
	in.buf.Append(line)
	if in.capture != nil {
		_, _ = io.WriteString(in.capture, line+"\n")
	}
	if in.onLine != nil {
		in.onLine(in.spec.Name, line)
	}
}

// waitLoop is the sole owner of cmd.Wait. It reaps the process, waits for
// the reader to finish draining, records the exit, then publishes it via
// waitDone and the OnExit callback.
func (in *Instance) waitLoop() {
	werr := in.cmd.Wait()

	select {
	case <-in.readerDone:
	case <-time.After(drainTimeout):
		// something outside the tree kept the pipe open; cut the reader loose
		_ = in.out.Close()
		<-in.readerDone
	}

	code := -1
	if in.cmd.ProcessState != nil {
		code = in.cmd.ProcessState.ExitCode()
	}

	in.mu.Lock()
	in.state = StateStopped
	in.exitCode = code
	in.exitedAt = time.Now()
	requested := in.stopping
	in.mu.Unlock()

	_ = in.stdin.Close()

	switch {
	case requested:
		in.log.Info("instance stopped", "name", in.spec.Name, "exit_code", code)
	case werr != nil || code != 0:
		in.log.Warn("instance exited unexpectedly", "name", in.spec.Name, "exit_code", code, "err", werr)
	default:
		in.log.Info("instance exited", "name", in.spec.Name, "exit_code", code)
	}

	close(in.waitDone)
	if in.onExit != nil {
		in.onExit(in)
	}
}

// SendCommand writes one console command followed by a newline to the
// process's stdin. The write is bounded by a deadline so a wedged child
// cannot hang the caller.
func (in *Instance) SendCommand(text string) error {
	in.mu.Lock()
	if in.state == StateStopped {
		in.mu.Unlock()
		return &CommandError{Name: in.spec.Name, Err: ErrNotRunning}
	}
	in.mu.Unlock()

	in.sendMu.Lock()
	defer in.sendMu.Unlock()
	// Deadlines are unsupported on some platforms' pipes; a failure to
	// arm one just means the write is unbounded there.
	_ = in.stdin.SetWriteDeadline(time.Now().Add(sendTimeout))
	defer func() { _ = in.stdin.SetWriteDeadline(time.Time{}) }()
	if _, err := in.stdin.WriteString(text + "\n"); err != nil {
		return &CommandError{Name: in.spec.Name, Err: err}
	}
	return nil
}

// Name returns the spec name.
func (in *Instance) Name() string { return in.spec.Name }

// Spec returns a copy of the launch spec.
func (in *Instance) Spec() Spec { return in.spec }

// PID returns the root process id. Stable for the lifetime of the Instance.
func (in *Instance) PID() int {
	if in.cmd.Process == nil {
		return 0
	}
	return in.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Alive reports whether the process has not yet been reaped.
func (in *Instance) Alive() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state != StateStopped
}

// StartedAt returns the spawn time.
func (in *Instance) StartedAt() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.started
}

// ExitResult returns the recorded exit code and whether the process has
// exited. The code is -1 when the process was killed by a signal or never
// ran.
func (in *Instance) ExitResult() (code int, exited bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.exitCode, in.state == StateStopped
}

// StopRequested reports whether the shutdown ladder was engaged, i.e. an
// observed exit was asked for rather than a crash.
func (in *Instance) StopRequested() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stopping
}

// Drain removes and returns all buffered console lines.
func (in *Instance) Drain() []string { return in.buf.Drain() }

// Peek returns up to n recent console lines without consuming them.
func (in *Instance) Peek(n int) []string { return in.buf.Peek(n) }

// Done is closed once the exit has been fully recorded.
func (in *Instance) Done() <-chan struct{} { return in.waitDone }

func closeQuiet(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}
