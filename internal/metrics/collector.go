package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/warden/internal/inspect"
)

const defaultSampleInterval = 5 * time.Second

// CollectorConfig holds configuration for resource usage sampling.
type CollectorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Collector periodically samples CPU and memory usage for running
// instances and exports the readings as per-instance gauges. Sampling
// goes through inspect.Inspector so the reported figures describe the
// server process itself, not the wrapper script that launched it.
type Collector struct {
	enabled  bool
	interval time.Duration
	insp     *inspect.Inspector
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu   sync.Mutex
	seen map[string]struct{} // names currently exported

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	uptime     *prometheus.GaugeVec
}

// NewCollector creates a resource usage collector. A nil inspector
// falls back to inspect defaults; a nil logger falls back to slog.Default.
func NewCollector(cfg CollectorConfig, insp *inspect.Inspector, logger *slog.Logger) *Collector {
	if insp == nil {
		insp = inspect.New(inspect.Config{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &Collector{
		enabled:  cfg.Enabled,
		interval: interval,
		insp:     insp,
		logger:   logger,
		stopCh:   make(chan struct{}),
		seen:     make(map[string]struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "instance",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the server process.",
			}, []string{"name"},
		),
		memoryRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "instance",
				Name:      "memory_rss_bytes",
				Help:      "Resident memory of the server process in bytes.",
			}, []string{"name"},
		),
		uptime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "instance",
				Name:      "uptime_seconds",
				Help:      "Seconds since the server process was created.",
			}, []string{"name"},
		),
	}
}

// Register registers the collector's gauges with the provided registerer.
func (c *Collector) Register(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryRSS, c.uptime} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. The pids getter supplies the current
// set of live instances as a name to root PID map. Start is a no-op
// when the collector is disabled.
func (c *Collector) Start(ctx context.Context, pids func() map[string]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sample(pids())
			}
		}
	}()
}

// Stop halts sampling and waits for the worker to finish.
func (c *Collector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) sample(pids map[string]int32) {
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		u, err := c.insp.Inspect(pid)
		if err != nil {
			if !errors.Is(err, inspect.ErrNotRunning) {
				c.logger.Debug("resource sample failed", "instance", name, "pid", pid, "error", err)
			}
			continue
		}
		c.cpuPercent.WithLabelValues(name).Set(u.CPUPercent)
		c.memoryRSS.WithLabelValues(name).Set(float64(u.MemoryRSS))
		c.uptime.WithLabelValues(name).Set(u.Uptime.Seconds())
		c.mu.Lock()
		c.seen[name] = struct{}{}
		c.mu.Unlock()
	}
	c.prune(pids)
}

// prune drops gauges for instances that are no longer live so stale
// readings do not linger in scrapes.
func (c *Collector) prune(pids map[string]int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.seen {
		if _, ok := pids[name]; ok {
			continue
		}
		c.cpuPercent.DeleteLabelValues(name)
		c.memoryRSS.DeleteLabelValues(name)
		c.uptime.DeleteLabelValues(name)
		delete(c.seen, name)
	}
}
