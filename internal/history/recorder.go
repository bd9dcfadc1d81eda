package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	recorderQueue  = 256
	persistTimeout = 5 * time.Second
)

// Recorder turns supervisor lifecycle callbacks into persisted events.
// Callbacks enqueue and return immediately; a background worker writes
// to the store and sinks. When the queue is full the event is dropped
// with a warning rather than stalling supervision.
type Recorder struct {
	store  Store
	sinks  []Sink
	logger *slog.Logger

	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewRecorder starts the background worker. Store may be nil when only
// sinks are configured, and vice versa.
func NewRecorder(store Store, sinks []Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		sinks:  sinks,
		logger: logger,
		ch:     make(chan Event, recorderQueue),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) InstanceStarted(name string, pid int, at time.Time) {
	r.enqueue(Event{
		EventID:    uuid.NewString(),
		Name:       name,
		Kind:       KindStarted,
		PID:        pid,
		OccurredAt: at.UTC(),
	})
}

func (r *Recorder) InstanceExited(name string, pid int, exitCode int, clean bool, at time.Time) {
	r.enqueue(Event{
		EventID:    uuid.NewString(),
		Name:       name,
		Kind:       KindExited,
		PID:        pid,
		ExitCode:   exitCode,
		Clean:      clean,
		OccurredAt: at.UTC(),
	})
}

func (r *Recorder) LaunchFailed(name string, exitCode int, at time.Time) {
	r.enqueue(Event{
		EventID:    uuid.NewString(),
		Name:       name,
		Kind:       KindLaunchFailed,
		ExitCode:   exitCode,
		OccurredAt: at.UTC(),
	})
}

func (r *Recorder) enqueue(e Event) {
	select {
	case r.ch <- e:
	default:
		r.logger.Warn("history queue full, dropping event", "instance", e.Name, "kind", string(e.Kind))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.ch {
		r.persist(e)
	}
}

func (r *Recorder) persist(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if r.store != nil {
		if err := r.store.Append(ctx, e); err != nil {
			r.logger.Warn("history append failed", "instance", e.Name, "error", err)
		}
	}
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("history sink send failed", "instance", e.Name, "error", err)
		}
	}
}

// Close drains queued events and stops the worker. The store and sinks
// are not closed; the caller owns them.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.ch) })
	<-r.done
	return nil
}
