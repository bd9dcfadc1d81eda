package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/warden/internal/instance"
)

const defaultDebounce = 1500 * time.Millisecond

// WatcherConfig wires a drop-in directory watcher.
type WatcherConfig struct {
	Dir      string
	Debounce time.Duration // coalesce editor write bursts, default 1.5s
	Logger   *slog.Logger
}

// Watcher observes the instance drop-in directory and republishes the
// full definition set after changes settle. Definitions are loaded
// fresh on every change so the apply callback never sees stale data.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	load     func() ([]instance.Spec, error)
	apply    func([]instance.Spec)

	fsw    *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher builds a watcher. load re-reads the definitions; apply
// receives the complete new set and is responsible for reconciling.
func NewWatcher(cfg WatcherConfig, load func() ([]instance.Spec, error), apply func([]instance.Spec)) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		load:     load,
		apply:    apply,
		ctx:      ctx,
		cancel:   cancel,
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.logger.Info("instance drop-in watcher started", "dir", w.dir, "debounce", w.debounce)
	go w.loop()
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() error {
	w.cancel()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("drop-in change detected", "file", filepath.Base(event.Name), "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			specs, err := w.load()
			if err != nil {
				w.logger.Warn("drop-in reload failed, keeping previous definitions", "error", err)
				continue
			}
			w.logger.Info("instance definitions reloaded", "count", len(specs))
			w.apply(specs)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("drop-in watcher error", "error", err)
		}
	}
}

// relevant filters events down to visible *.toml files. Editors touch
// swap and temp files constantly; removes and renames matter because a
// deleted drop-in should unregister its instances.
func relevant(e fsnotify.Event) bool {
	if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(e.Name)
	return strings.HasSuffix(base, ".toml") && !strings.HasPrefix(base, ".")
}
