// Package registry keeps the keyed map of supervised instances and the named
// launch definitions behind it. The map lock guards lookups, inserts and
// deletes only; spawning, console I/O and the shutdown ladder all run outside
// it, so one slow instance can never stall operations on the others.
package registry

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/warden/internal/inspect"
	"github.com/loykin/warden/internal/instance"
	"github.com/loykin/warden/internal/metrics"
)

// ErrUnknownInstance reports an operation on a name with no definition and
// no live process.
var ErrUnknownInstance = errors.New("unknown instance")

// Recorder receives lifecycle events for persistence. Implementations must
// tolerate being called from instance goroutines.
type Recorder interface {
	InstanceStarted(name string, pid int, at time.Time)
	InstanceExited(name string, pid int, exitCode int, clean bool, at time.Time)
	LaunchFailed(name string, exitCode int, at time.Time)
}

// Config wires a Registry. All fields are optional.
type Config struct {
	Logger    *slog.Logger
	Inspector *inspect.Inspector
	// CaptureWriter builds the console capture sink for a spec, typically a
	// rotating file writer. A nil func or nil return disables capture.
	CaptureWriter func(instance.Spec) io.WriteCloser
}

// entry tracks one name in the live map from the moment Start claims it
// until exit cleanup finishes. inst is nil while the spawn is in flight.
type entry struct {
	inst      *instance.Instance
	committed bool          // Start finished registering the instance
	orphaned  bool          // exit fired before Start could commit
	cleaned   chan struct{} // closed after removal and bookkeeping
}

type Registry struct {
	log       *slog.Logger
	inspector *inspect.Inspector
	capture   func(instance.Spec) io.WriteCloser

	mu   sync.RWMutex
	live map[string]*entry
	defs map[string]instance.Spec

	recorder Recorder
}

func New(cfg Config) *Registry {
	r := &Registry{
		log:       cfg.Logger,
		inspector: cfg.Inspector,
		capture:   cfg.CaptureWriter,
		live:      make(map[string]*entry),
		defs:      make(map[string]instance.Spec),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.inspector == nil {
		r.inspector = inspect.New(inspect.Config{})
	}
	return r
}

// SetRecorder installs the lifecycle event recorder. Call before the first
// Start.
func (r *Registry) SetRecorder(rec Recorder) {
	r.mu.Lock()
	r.recorder = rec
	r.mu.Unlock()
}

// Start launches name with the given spec. A name whose process is already
// alive (or still starting) is a no-op returning true. A launch failure
// leaves no registry entry behind and returns false with a LaunchError that
// carries the exit code and captured console output.
//
// The spec is remembered as the name's definition even when the launch
// fails, so Restart and StartByName work without re-sending it.
func (r *Registry) Start(name string, spec instance.Spec) (bool, error) {
	spec.Name = name
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return false, err
	}

	e := &entry{cleaned: make(chan struct{})}
	r.mu.Lock()
	for {
		cur, ok := r.live[name]
		if !ok {
			break
		}
		if cur.inst == nil || cur.inst.Alive() { // nil inst: spawn in flight
			r.mu.Unlock()
			return true, nil
		}
		// exited entry whose cleanup is still in flight; wait and re-check
		r.mu.Unlock()
		<-cur.cleaned
		r.mu.Lock()
	}
	r.live[name] = e
	r.defs[name] = spec
	r.mu.Unlock()

	var capture io.WriteCloser
	if r.capture != nil {
		capture = r.capture(spec)
	}

	inst, err := instance.Launch(spec, instance.Options{
		Logger:     r.log,
		Capture:    capture,
		OnExit:     func(in *instance.Instance) { r.finishExit(e, in) },
		OnEscalate: func(name, stage string) { metrics.IncEscalation(name, stage) },
	})
	if err != nil {
		r.mu.Lock()
		if cur, ok := r.live[name]; ok && cur == e {
			delete(r.live, name)
		}
		rec := r.recorder
		r.mu.Unlock()
		metrics.IncLaunchFailure(name)
		var le *instance.LaunchError
		if rec != nil && errors.As(err, &le) {
			rec.LaunchFailed(name, le.ExitCode, time.Now())
		}
		return false, err
	}

	r.mu.Lock()
	e.inst = inst
	orphaned := e.orphaned
	if !orphaned {
		e.committed = true
	}
	r.mu.Unlock()

	r.recordStart(inst)
	if orphaned {
		// the process outlived its grace window but died before we could
		// commit the entry; record both halves of its life
		r.recordExit(inst)
	}
	return true, nil
}

// StartByName launches a previously registered definition.
func (r *Registry) StartByName(name string) (bool, error) {
	spec, ok := r.Definition(name)
	if !ok {
		return false, ErrUnknownInstance
	}
	return r.Start(name, spec)
}

// Stop runs the shutdown ladder for name and waits until the exit has been
// confirmed and the entry removed. A name with no live process returns
// (false, nil); that is a normal outcome, not an error.
func (r *Registry) Stop(name string) (bool, error) {
	r.mu.RLock()
	e, ok := r.live[name]
	var inst *instance.Instance
	if ok {
		inst = e.inst
	}
	r.mu.RUnlock()
	if !ok || inst == nil {
		return false, nil
	}
	if err := inst.Stop(); err != nil {
		return false, err
	}
	<-e.cleaned
	return true, nil
}

// Restart stops name if it is running, then starts it from its recorded
// definition.
func (r *Registry) Restart(name string) (bool, error) {
	if _, err := r.Stop(name); err != nil {
		return false, err
	}
	return r.StartByName(name)
}

// SendCommand forwards one console command. It returns false when the
// instance is absent or the write failed (exited process, broken pipe).
func (r *Registry) SendCommand(name, text string) (bool, error) {
	inst := r.instanceOf(name)
	if inst == nil {
		return false, nil
	}
	if err := inst.SendCommand(text); err != nil {
		return false, err
	}
	metrics.IncCommand(name)
	return true, nil
}

// ReadOutput drains and returns the buffered console lines for name.
// Unknown names yield an empty slice.
func (r *Registry) ReadOutput(name string) []string {
	inst := r.instanceOf(name)
	if inst == nil {
		return nil
	}
	return inst.Drain()
}

// IsRunning reports whether name has a live, not yet exited process.
func (r *Registry) IsRunning(name string) bool {
	inst := r.instanceOf(name)
	return inst != nil && inst.Alive()
}

// StopAll stops every live instance concurrently and waits for all of them.
func (r *Registry) StopAll() error {
	r.mu.RLock()
	names := make([]string, 0, len(r.live))
	for name := range r.live {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := r.Stop(name); err != nil {
				errCh <- err
			}
		}(name)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Register stores (or replaces) a named launch definition without starting
// it. Definitions come from the config file, the drop-in directory or the
// API.
func (r *Registry) Register(spec instance.Spec) error {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.defs[spec.Name] = spec
	r.mu.Unlock()
	return nil
}

// Unregister stops name if it is live and forgets its definition.
func (r *Registry) Unregister(name string) error {
	r.mu.RLock()
	_, defined := r.defs[name]
	_, running := r.live[name]
	r.mu.RUnlock()
	if !defined && !running {
		return ErrUnknownInstance
	}
	if _, err := r.Stop(name); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.defs, name)
	r.mu.Unlock()
	return nil
}

// SyncDefinitions replaces the entire definition set, registering every
// spec and forgetting names absent from the new set. Live processes are
// never touched; an instance whose definition disappears keeps running
// until stopped explicitly. An invalid spec aborts the whole sync.
func (r *Registry) SyncDefinitions(specs []instance.Spec) (added, removed int, err error) {
	next := make(map[string]instance.Spec, len(specs))
	for _, s := range specs {
		s.Normalize()
		if err := s.Validate(); err != nil {
			return 0, 0, err
		}
		next[s.Name] = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range next {
		if _, ok := r.defs[name]; !ok {
			added++
		}
	}
	for name := range r.defs {
		if _, ok := next[name]; !ok {
			removed++
		}
	}
	r.defs = next
	return added, removed, nil
}

// Definition returns the stored launch spec for name.
func (r *Registry) Definition(name string) (instance.Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.defs[name]
	return spec, ok
}

// Names returns all known definition names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunningPIDs returns the root PID of every live instance, keyed by name.
// Used by the metrics collector.
func (r *Registry) RunningPIDs() map[string]int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int32, len(r.live))
	for name, e := range r.live {
		if e.inst != nil && e.inst.Alive() {
			out[name] = int32(e.inst.PID())
		}
	}
	return out
}

func (r *Registry) instanceOf(name string) *instance.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.live[name]
	if !ok {
		return nil
	}
	return e.inst
}

func (r *Registry) runningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.live {
		if e.inst != nil && e.inst.Alive() {
			n++
		}
	}
	return n
}

// finishExit is the waiter-side cleanup: remove the entry, record the exit,
// release Stop callers. It tolerates firing before Start committed (a death
// right at the edge of the grace window).
func (r *Registry) finishExit(e *entry, inst *instance.Instance) {
	name := inst.Name()
	r.mu.Lock()
	if cur, ok := r.live[name]; ok && cur == e {
		delete(r.live, name)
	}
	committed := e.committed
	if !committed {
		e.orphaned = true
	}
	r.mu.Unlock()

	if committed {
		r.recordExit(inst)
	}
	close(e.cleaned)
}

func (r *Registry) recordStart(inst *instance.Instance) {
	metrics.IncStart(inst.Name())
	metrics.SetRunningInstances(r.runningCount())
	r.mu.RLock()
	rec := r.recorder
	r.mu.RUnlock()
	if rec != nil {
		rec.InstanceStarted(inst.Name(), inst.PID(), inst.StartedAt())
	}
}

func (r *Registry) recordExit(inst *instance.Instance) {
	code, _ := inst.ExitResult()
	clean := inst.StopRequested()
	if clean {
		metrics.IncStop(inst.Name())
	} else {
		metrics.IncCrash(inst.Name())
	}
	metrics.SetRunningInstances(r.runningCount())
	r.mu.RLock()
	rec := r.recorder
	r.mu.RUnlock()
	if rec != nil {
		rec.InstanceExited(inst.Name(), inst.PID(), code, clean, time.Now())
	}
}
