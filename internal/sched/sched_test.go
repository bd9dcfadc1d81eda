package sched

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loykin/warden/internal/config"
)

type fakeActions struct {
	mu      sync.Mutex
	calls   []string
	err     error
	running bool
	block   chan struct{}
}

func newFakeActions() *fakeActions { return &fakeActions{running: true} }

func (f *fakeActions) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeActions) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeActions) StartByName(name string) (bool, error) {
	f.record("start:" + name)
	return true, f.err
}

func (f *fakeActions) Stop(name string) (bool, error) {
	f.record("stop:" + name)
	if f.block != nil {
		<-f.block
	}
	return true, f.err
}

func (f *fakeActions) Restart(name string) (bool, error) {
	f.record("restart:" + name)
	return true, f.err
}

func (f *fakeActions) SendCommand(name, text string) (bool, error) {
	f.record("command:" + name + ":" + text)
	return f.running, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, d, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(step)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestAddRejectsInvalidExpression(t *testing.T) {
	s := New(newFakeActions(), discardLogger())
	err := s.Add(config.Schedule{Name: "bad", Instance: "smp", Cron: "not a cron", Action: config.ActionStart})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	s := New(newFakeActions(), discardLogger())
	sc := config.Schedule{Name: "nightly", Instance: "smp", Cron: "@daily", Action: config.ActionRestart}
	if err := s.Add(sc); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Add(sc); err == nil {
		t.Fatal("expected error for duplicate schedule name")
	}
}

func TestSchedulesFireActions(t *testing.T) {
	fa := newFakeActions()
	s := New(fa, discardLogger())
	for _, sc := range []config.Schedule{
		{Name: "boot", Instance: "smp", Cron: "@every 50ms", Action: config.ActionStart},
		{Name: "bounce", Instance: "creative", Cron: "@every 50ms", Action: config.ActionRestart},
		{Name: "save", Instance: "smp", Cron: "@every 50ms", Action: config.ActionCommand, Command: "save-all"},
	} {
		if err := s.Add(sc); err != nil {
			t.Fatalf("add %s: %v", sc.Name, err)
		}
	}
	s.Start()
	defer s.Stop()

	want := map[string]bool{
		"start:smp":            false,
		"restart:creative":     false,
		"command:smp:save-all": false,
	}
	waitUntil(t, 5*time.Second, 10*time.Millisecond, func() bool {
		for _, call := range fa.all() {
			if _, ok := want[call]; ok {
				want[call] = true
			}
		}
		for _, seen := range want {
			if !seen {
				return false
			}
		}
		return true
	})
}

func TestSecondsFieldAccepted(t *testing.T) {
	fa := newFakeActions()
	s := New(fa, discardLogger())
	if err := s.Add(config.Schedule{Name: "tick", Instance: "smp", Cron: "* * * * * *", Action: config.ActionStart}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	defer s.Stop()
	waitUntil(t, 3*time.Second, 20*time.Millisecond, func() bool { return fa.count() >= 1 })
}

func TestStopPreventsFurtherRuns(t *testing.T) {
	fa := newFakeActions()
	s := New(fa, discardLogger())
	if err := s.Add(config.Schedule{Name: "tick", Instance: "smp", Cron: "@every 50ms", Action: config.ActionStart}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	waitUntil(t, 3*time.Second, 10*time.Millisecond, func() bool { return fa.count() >= 1 })
	s.Stop()
	n := fa.count()
	time.Sleep(250 * time.Millisecond)
	if got := fa.count(); got != n {
		t.Fatalf("schedule fired after Stop: %d -> %d calls", n, got)
	}
}

func TestOverlappingRunsSkipped(t *testing.T) {
	fa := newFakeActions()
	fa.block = make(chan struct{})
	s := New(fa, discardLogger())
	if err := s.Add(config.Schedule{Name: "slow", Instance: "smp", Cron: "@every 50ms", Action: config.ActionStop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	waitUntil(t, 3*time.Second, 10*time.Millisecond, func() bool { return fa.count() >= 1 })
	time.Sleep(300 * time.Millisecond)
	if n := fa.count(); n != 1 {
		t.Fatalf("expected overlapping ticks to be skipped, got %d calls", n)
	}
	close(fa.block)
	s.Stop()
}

func TestActionErrorsDoNotStopScheduler(t *testing.T) {
	fa := newFakeActions()
	fa.err = errors.New("boom")
	s := New(fa, discardLogger())
	if err := s.Add(config.Schedule{Name: "tick", Instance: "smp", Cron: "@every 50ms", Action: config.ActionRestart}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	defer s.Stop()
	waitUntil(t, 3*time.Second, 10*time.Millisecond, func() bool { return fa.count() >= 2 })
}

func TestCommandToStoppedInstance(t *testing.T) {
	fa := newFakeActions()
	fa.running = false
	s := New(fa, discardLogger())
	if err := s.Add(config.Schedule{Name: "save", Instance: "smp", Cron: "@every 50ms", Action: config.ActionCommand, Command: "save-all"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	defer s.Stop()
	waitUntil(t, 3*time.Second, 10*time.Millisecond, func() bool { return fa.count() >= 1 })
}

func TestNextRuns(t *testing.T) {
	s := New(newFakeActions(), discardLogger())
	if err := s.Add(config.Schedule{Name: "nightly", Instance: "smp", Cron: "@every 1h", Action: config.ActionRestart}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	defer s.Stop()
	next := s.NextRuns()
	at, ok := next["nightly"]
	if !ok {
		t.Fatal("expected nightly in NextRuns")
	}
	if at.IsZero() || !at.After(time.Now()) {
		t.Fatalf("expected future next run, got %v", at)
	}
}
