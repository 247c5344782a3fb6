package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cfx_manager"

// Inventory is a point-in-time count of what is on disk
type Inventory struct {
	Folders           int
	ConfiguredFolders int
	Builds            int
	InstalledBuilds   int
}

// Sampler produces the current inventory
type Sampler func() Inventory

// Collector owns the prometheus registry of the manager. Runtime counters are
// updated by the runtime manager; inventory gauges are sampled periodically.
type Collector struct {
	registry *prometheus.Registry
	sampler  Sampler
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	sessionsStarted prometheus.Counter
	startFailures   *prometheus.CounterVec
	crashes         prometheus.Counter
	restarts        prometheus.Counter
	running         prometheus.Gauge
	inventory       *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry. sampler may be nil.
func NewCollector(sampler Sampler, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		sampler:  sampler,
		interval: interval,
		stopCh:   make(chan struct{}),

		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "sessions_started_total",
			Help:      "Server sessions that reached the running state",
		}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "start_failures_total",
			Help:      "Failed server starts by reason",
		}, []string{"reason"}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "crashes_total",
			Help:      "Unexpected server exits",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "restarts_total",
			Help:      "Automatic restarts after a crash",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "running",
			Help:      "1 while a server process is running",
		}),
		inventory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "items",
			Help:      "Data folders and builds known to the manager",
		}, []string{"kind"}),
	}

	c.registry.MustRegister(
		c.sessionsStarted,
		c.startFailures,
		c.crashes,
		c.restarts,
		c.running,
		c.inventory,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SessionStarted() { c.sessionsStarted.Inc() }

func (c *Collector) StartFailed(reason string) { c.startFailures.WithLabelValues(reason).Inc() }

func (c *Collector) Crashed() { c.crashes.Inc() }

func (c *Collector) Restarted() { c.restarts.Inc() }

func (c *Collector) SetRunning(running bool) {
	if running {
		c.running.Set(1)
		return
	}
	c.running.Set(0)
}

// Start samples the inventory in the background until Stop
func (c *Collector) Start() {
	if c.sampler == nil {
		return
	}

	c.collect()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends background sampling
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) collect() {
	inv := c.sampler()
	c.inventory.WithLabelValues("folders").Set(float64(inv.Folders))
	c.inventory.WithLabelValues("configured_folders").Set(float64(inv.ConfiguredFolders))
	c.inventory.WithLabelValues("builds").Set(float64(inv.Builds))
	c.inventory.WithLabelValues("installed_builds").Set(float64(inv.InstalledBuilds))
}
