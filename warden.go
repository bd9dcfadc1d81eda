// Package warden supervises long-running game-server processes: it
// launches them, feeds their consoles, buffers their output, watches
// for exits and serves the whole thing over an HTTP API.
//
// This file is the embedding facade. The warden binary under
// cmd/warden wires the same pieces from a config file.
package warden

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/history/factory"
	"github.com/loykin/warden/internal/instance"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/registry"
	"github.com/loykin/warden/internal/sched"
	iserver "github.com/loykin/warden/internal/server"
	wtls "github.com/loykin/warden/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = instance.Spec

type Status = registry.Status

type Event = history.Event

type Schedule = config.Schedule

type Config = config.Config

type TLSConfig = config.TLSConfig

type HistoryConfig = history.Config

type HistoryStore = history.Store

type HistorySink = history.Sink

// Supervisor is a thin facade over the instance registry. It provides
// a stable public API for embedding.
type Supervisor struct {
	inner *registry.Registry

	store    history.Store
	recorder *history.Recorder
}

func New() *Supervisor {
	// Embedded supervisors honor Spec.ConsoleLog with stock rotation
	// settings; the daemon overrides this with its [log] section.
	logCfg := logger.DefaultConfig()
	return &Supervisor{inner: registry.New(registry.Config{
		CaptureWriter: func(spec instance.Spec) io.WriteCloser {
			return logCfg.ConsoleWriter(spec.Name, spec.ConsoleLog)
		},
	})}
}

func (s *Supervisor) Register(spec Spec) error     { return s.inner.Register(spec) }
func (s *Supervisor) Unregister(name string) error { return s.inner.Unregister(name) }
func (s *Supervisor) Start(name string, spec Spec) (bool, error) {
	return s.inner.Start(name, spec)
}
func (s *Supervisor) StartByName(name string) (bool, error) { return s.inner.StartByName(name) }
func (s *Supervisor) Stop(name string) (bool, error)        { return s.inner.Stop(name) }
func (s *Supervisor) Restart(name string) (bool, error)     { return s.inner.Restart(name) }
func (s *Supervisor) SendCommand(name, text string) (bool, error) {
	return s.inner.SendCommand(name, text)
}
func (s *Supervisor) ReadOutput(name string) []string     { return s.inner.ReadOutput(name) }
func (s *Supervisor) IsRunning(name string) bool          { return s.inner.IsRunning(name) }
func (s *Supervisor) GetStatus(name string) Status        { return s.inner.GetStatus(name) }
func (s *Supervisor) List() []Status                      { return s.inner.List() }
func (s *Supervisor) Names() []string                     { return s.inner.Names() }
func (s *Supervisor) Definition(name string) (Spec, bool) { return s.inner.Definition(name) }
func (s *Supervisor) SyncDefinitions(specs []Spec) (added, removed int, err error) {
	return s.inner.SyncDefinitions(specs)
}
func (s *Supervisor) StopAll() error { return s.inner.StopAll() }

// EnableHistory builds the configured store and sinks and records
// lifecycle events into them from now on. Call before the first Start.
func (s *Supervisor) EnableHistory(hc HistoryConfig) error {
	if s.recorder != nil {
		return errors.New("history already enabled")
	}
	store, sinks, err := factory.Build(hc)
	if err != nil {
		return err
	}
	if store == nil && len(sinks) == 0 {
		return nil
	}
	s.store = store
	s.recorder = history.NewRecorder(store, sinks, nil)
	s.inner.SetRecorder(s.recorder)
	return nil
}

// History returns recent lifecycle events, newest first. An empty name
// queries across all instances.
func (s *Supervisor) History(ctx context.Context, name string, limit int) ([]Event, error) {
	if s.store == nil {
		return nil, errors.New("history is not enabled")
	}
	return s.store.Recent(ctx, name, limit)
}

// Close stops every instance and shuts the history pipeline down,
// flushing buffered events.
func (s *Supervisor) Close() error {
	err := s.inner.StopAll()
	if s.recorder != nil {
		if cerr := s.recorder.Close(); err == nil {
			err = cerr
		}
	}
	if s.store != nil {
		if cerr := s.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Scheduler facade

type Scheduler struct{ inner *sched.Scheduler }

func NewScheduler(s *Supervisor) *Scheduler {
	return &Scheduler{inner: sched.New(s.inner, nil)}
}

func (s *Scheduler) Add(sc Schedule) error { return s.inner.Add(sc) }
func (s *Scheduler) Start()                { s.inner.Start() }
func (s *Scheduler) Stop()                 { s.inner.Stop() }

// LoadConfig reads and resolves a warden TOML config file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// APIHandler returns the daemon's HTTP API as a mountable handler, for
// embedding into an existing server or mux. History endpoints come
// alive once EnableHistory has run. The handler itself is
// unauthenticated; embedders put their own middleware in front.
func (s *Supervisor) APIHandler(basePath string) http.Handler {
	return iserver.NewRouter(iserver.Config{
		Registry: s.inner,
		History:  s.store,
		BasePath: basePath,
	}).Handler()
}

// NewHTTPServer starts an HTTP server on addr exposing the API.
// Call Shutdown or Close on the returned server to stop it.
func NewHTTPServer(addr, basePath string, s *Supervisor) *http.Server {
	return iserver.NewServer(addr, iserver.Config{
		Registry: s.inner,
		History:  s.store,
		BasePath: basePath,
	})
}

// NewTLSServer is NewHTTPServer over HTTPS. tc must have Enabled set
// and name a certificate source (files or a generation dir).
func NewTLSServer(addr, basePath string, s *Supervisor, tc TLSConfig) (*http.Server, error) {
	conf, err := wtls.Setup(tc)
	if err != nil {
		return nil, err
	}
	if conf == nil {
		return nil, errors.New("tls is not enabled in the given config")
	}
	return iserver.NewTLSServer(addr, iserver.Config{
		Registry: s.inner,
		History:  s.store,
		BasePath: basePath,
	}, conf), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns the Prometheus exposition handler for the
// default registry, for mounting wherever the embedder serves it.
func MetricsHandler() http.Handler { return metrics.Handler() }
