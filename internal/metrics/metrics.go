package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "instance",
			Name:      "starts_total",
			Help:      "Number of successful instance launches.",
		}, []string{"name"},
	)
	instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "instance",
			Name:      "stops_total",
			Help:      "Number of clean instance exits (requested or zero status).",
		}, []string{"name"},
	)
	instanceCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "instance",
			Name:      "crashes_total",
			Help:      "Number of unrequested nonzero instance exits.",
		}, []string{"name"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "instance",
			Name:      "launch_failures_total",
			Help:      "Number of launches that failed to produce a running instance.",
		}, []string{"name"},
	)
	stopEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "instance",
			Name:      "stop_escalations_total",
			Help:      "Shutdown ladder stages reached per instance (terminate, kill).",
		}, []string{"name", "stage"},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "instance",
			Name:      "commands_total",
			Help:      "Number of console commands delivered to instance stdin.",
		}, []string{"name"},
	)
	runningInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "instance",
			Name:      "running_instances",
			Help:      "Current number of live instances.",
		},
	)
	scheduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "schedule",
			Name:      "runs_total",
			Help:      "Schedule executions by outcome (ok, skipped, error).",
		}, []string{"schedule", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{instanceStarts, instanceStops, instanceCrashes, launchFailures, stopEscalations, commandsSent, runningInstances, scheduleRuns}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				_ = are // keep existing
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		instanceStarts.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		instanceStops.WithLabelValues(name).Inc()
	}
}
func IncCrash(name string) {
	if regOK.Load() {
		instanceCrashes.WithLabelValues(name).Inc()
	}
}
func IncLaunchFailure(name string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name).Inc()
	}
}
func IncEscalation(name, stage string) {
	if regOK.Load() {
		stopEscalations.WithLabelValues(name, stage).Inc()
	}
}
func IncCommand(name string) {
	if regOK.Load() {
		commandsSent.WithLabelValues(name).Inc()
	}
}
func SetRunningInstances(n int) {
	if regOK.Load() {
		runningInstances.Set(float64(n))
	}
}
func IncScheduleRun(schedule, outcome string) {
	if regOK.Load() {
		scheduleRuns.WithLabelValues(schedule, outcome).Inc()
	}
}
