package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/warden/internal/auth"
	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/history/factory"
	"github.com/loykin/warden/internal/inspect"
	"github.com/loykin/warden/internal/instance"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/registry"
	"github.com/loykin/warden/internal/sched"
	"github.com/loykin/warden/internal/server"
	wardentls "github.com/loykin/warden/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// defaultListen is used when [server] listen is not configured.
const defaultListen = "127.0.0.1:8420"

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=warden.toml or provide as argument")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	log := cfg.Log.NewSlogger()
	slog.SetDefault(log)

	var authSvc *auth.Service
	if cfg.Server.AuthSecret != "" {
		authSvc, err = auth.NewService(cfg.Server.AuthSecret, 0)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	} else {
		log.Warn("no auth_secret configured, API is unauthenticated")
	}

	store, sinks, err := factory.Build(cfg.History)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	var recorder *history.Recorder
	if store != nil || len(sinks) > 0 {
		recorder = history.NewRecorder(store, sinks, log)
	}

	insp := inspect.New(inspect.Config{})
	logCfg := cfg.Log
	reg := registry.New(registry.Config{
		Logger:    log,
		Inspector: insp,
		CaptureWriter: func(spec instance.Spec) io.WriteCloser {
			return logCfg.ConsoleWriter(spec.Name, spec.ConsoleLog)
		},
	})
	if recorder != nil {
		reg.SetRecorder(recorder)
	}

	for _, spec := range cfg.Specs {
		if err := reg.Register(spec); err != nil {
			return fmt.Errorf("register %s: %w", spec.Name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		collector = metrics.NewCollector(cfg.Metrics, insp, log)
		if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register resource collector: %w", err)
		}
		collector.Start(ctx, reg.RunningPIDs)
	}

	var scheduler *sched.Scheduler
	if len(cfg.Schedules) > 0 {
		scheduler = sched.New(reg, log)
		for _, sc := range cfg.Schedules {
			if err := scheduler.Add(sc); err != nil {
				return err
			}
		}
		scheduler.Start()
		log.Info("scheduler started", "schedules", len(cfg.Schedules))
	}

	var watcher *config.Watcher
	if cfg.InstanceDir != "" {
		watcher = config.NewWatcher(config.WatcherConfig{Dir: cfg.InstanceDir, Logger: log},
			func() ([]instance.Spec, error) { return config.LoadSpecs(configPath) },
			func(specs []instance.Spec) {
				added, removed, err := reg.SyncDefinitions(specs)
				if err != nil {
					log.Warn("instance drop-in reload rejected", "error", err)
					return
				}
				if added > 0 || removed > 0 {
					log.Info("instance definitions reloaded",
						"defined", len(specs), "added", added, "removed", removed)
				}
			})
		if err := watcher.Start(); err != nil {
			log.Warn("instance drop-in watching disabled", "dir", cfg.InstanceDir, "error", err)
			watcher = nil
		} else {
			log.Info("watching instance drop-ins", "dir", cfg.InstanceDir)
		}
	}

	for _, name := range cfg.AutoStart {
		if _, err := reg.StartByName(name); err != nil {
			log.Error("autostart failed", "instance", name, "error", err)
		} else {
			log.Info("autostarted instance", "instance", name)
		}
	}

	listen := cfg.Server.Listen
	if listen == "" {
		listen = defaultListen
	}
	srvCfg := server.Config{
		Registry: reg,
		History:  store,
		Auth:     authSvc,
		BasePath: cfg.Server.BasePath,
		Metrics:  cfg.Metrics.Enabled,
		Logger:   log,
	}
	tlsConf, err := wardentls.Setup(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	var srv *http.Server
	if tlsConf != nil {
		srv = server.NewTLSServer(listen, srvCfg, tlsConf)
	} else {
		srv = server.NewServer(listen, srvCfg)
	}
	log.Info("warden daemon started",
		"listen", listen, "base_path", cfg.Server.BasePath,
		"tls", tlsConf != nil, "instances", len(cfg.Specs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	log.Info("shutting down", "signal", sig.String())

	// Teardown order: stop producing work, then the API, then the
	// instances, and close the history pipeline last so final exit
	// events are still recorded.
	if scheduler != nil {
		scheduler.Stop()
	}
	if watcher != nil {
		_ = watcher.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := reg.StopAll(); err != nil {
		log.Warn("stopping instances", "error", err)
	}
	if collector != nil {
		collector.Stop()
	}
	if recorder != nil {
		_ = recorder.Close()
	}
	if store != nil {
		_ = store.Close()
	}
	log.Info("warden daemon stopped")
	return nil
}
