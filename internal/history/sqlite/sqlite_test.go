package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/loykin/warden/internal/history"
)

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestAppendAndRecentRoundTrip(t *testing.T) {
	st, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	events := []history.Event{
		{EventID: "e1", Name: "smp", Kind: history.KindStarted, PID: 100, OccurredAt: base},
		{EventID: "e2", Name: "smp", Kind: history.KindExited, PID: 100, ExitCode: 137, Clean: false, OccurredAt: base.Add(time.Minute)},
		{EventID: "e3", Name: "creative", Kind: history.KindStarted, PID: 200, OccurredAt: base.Add(2 * time.Minute)},
		{EventID: "e4", Name: "smp", Kind: history.KindExited, PID: 101, ExitCode: 0, Clean: true, OccurredAt: base.Add(3 * time.Minute)},
	}
	for _, e := range events {
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.EventID, err)
		}
	}

	got, err := st.Recent(ctx, "smp", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 smp events, got %d", len(got))
	}
	if got[0].EventID != "e4" || got[1].EventID != "e2" || got[2].EventID != "e1" {
		t.Errorf("unexpected order: %s %s %s", got[0].EventID, got[1].EventID, got[2].EventID)
	}

	last := got[0]
	if last.Kind != history.KindExited || !last.Clean || last.ExitCode != 0 || last.PID != 101 {
		t.Errorf("round trip mismatch: %+v", last)
	}
	if !last.OccurredAt.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("occurred_at = %v, want %v", last.OccurredAt, base.Add(3*time.Minute))
	}

	crash := got[1]
	if crash.ExitCode != 137 || crash.Clean {
		t.Errorf("crash round trip mismatch: %+v", crash)
	}
}

func TestRecentAllInstances(t *testing.T) {
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		e := history.Event{
			EventID:    fmt.Sprintf("ev-%d", i),
			Name:       fmt.Sprintf("inst-%d", i%2),
			Kind:       history.KindStarted,
			PID:        1000 + i,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := st.Recent(ctx, "", 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}
	if all[0].EventID != "ev-4" {
		t.Errorf("expected newest first, got %s", all[0].EventID)
	}

	limited, err := st.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("recent limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	for i := 0; i < defaultRecentLimit+10; i++ {
		e := history.Event{
			EventID:    fmt.Sprintf("ev-%d", i),
			Name:       "smp",
			Kind:       history.KindStarted,
			OccurredAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := st.Recent(ctx, "smp", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != defaultRecentLimit {
		t.Errorf("expected default limit %d, got %d", defaultRecentLimit, len(got))
	}
}

func TestFileBackedStorePersists(t *testing.T) {
	dbPath := t.TempDir() + "/history.db"

	st, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	e := history.Event{
		EventID:    "persisted",
		Name:       "smp",
		Kind:       history.KindLaunchFailed,
		ExitCode:   1,
		OccurredAt: time.Now().UTC(),
	}
	if err := st.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Recent(ctx, "smp", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "persisted" || got[0].Kind != history.KindLaunchFailed {
		t.Fatalf("unexpected events after reopen: %+v", got)
	}
}

func TestAppendWithCancelledContext(t *testing.T) {
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = st.Append(ctx, history.Event{EventID: "late", Name: "smp", Kind: history.KindStarted, OccurredAt: time.Now()})
	if err != nil {
		t.Logf("append with cancelled context: %v", err)
	}
}
