// Package sched fires configured schedules against the supervisor:
// nightly restarts, periodic world saves, maintenance announcements.
package sched

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/metrics"
)

// Actions is the slice of the registry the scheduler drives.
type Actions interface {
	StartByName(name string) (bool, error)
	Stop(name string) (bool, error)
	Restart(name string) (bool, error)
	SendCommand(name, text string) (bool, error)
}

// specParser accepts the standard five-field form, an optional leading
// seconds field, and descriptors such as "@daily" or "@every 1h".
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns one cron runner. Overlapping runs of the same
// schedule are skipped, so a slow stop cannot stack restarts.
type Scheduler struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	actions Actions
	logger  *slog.Logger
	entries map[string]cron.EntryID
}

func New(actions Actions, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{l: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		actions: actions,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers one schedule. It fails on an invalid cron expression
// or a duplicate schedule name.
func (s *Scheduler) Add(sc config.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sc.Name]; ok {
		return fmt.Errorf("schedule %q already added", sc.Name)
	}
	id, err := s.cron.AddFunc(sc.Cron, func() { s.fire(sc) })
	if err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression %q: %w", sc.Name, sc.Cron, err)
	}
	s.entries[sc.Name] = id
	return nil
}

// Start begins firing. Add all schedules first.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels future runs and waits for in-flight actions to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// NextRuns reports the next execution time per schedule name. Times
// are zero before Start.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

func (s *Scheduler) fire(sc config.Schedule) {
	var err error
	switch sc.Action {
	case config.ActionStart:
		_, err = s.actions.StartByName(sc.Instance)
	case config.ActionStop:
		_, err = s.actions.Stop(sc.Instance)
	case config.ActionRestart:
		_, err = s.actions.Restart(sc.Instance)
	case config.ActionCommand:
		var sent bool
		sent, err = s.actions.SendCommand(sc.Instance, sc.Command)
		if err == nil && !sent {
			s.logger.Info("schedule skipped, instance not running",
				"schedule", sc.Name, "instance", sc.Instance)
			metrics.IncScheduleRun(sc.Name, "skipped")
			return
		}
	default:
		err = fmt.Errorf("unknown action %q", sc.Action)
	}
	if err != nil {
		s.logger.Warn("schedule action failed",
			"schedule", sc.Name, "instance", sc.Instance, "action", sc.Action, "error", err)
		metrics.IncScheduleRun(sc.Name, "error")
		return
	}
	s.logger.Info("schedule fired",
		"schedule", sc.Name, "instance", sc.Instance, "action", sc.Action)
	metrics.IncScheduleRun(sc.Name, "ok")
}

// cronLogger adapts slog to cron's logger interface. Only the skip
// chain logs through it.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) { c.l.Info(msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append([]any{"error", err}, kv...)...)
}
