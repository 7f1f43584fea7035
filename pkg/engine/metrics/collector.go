// Package metrics exposes invocation, cache and backend metrics in the
// Prometheus format.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ember"

// Outcome labels
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Collector records per-function invocation metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry
	logger   logging.Logger

	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge

	// summary logging
	mu             sync.Mutex
	counts         map[string]int64
	failures       map[string]int64
	totalSeconds   map[string]float64
	concurrent     atomic.Int64
	peakConcurrent atomic.Int64
}

// NewCollector creates a collector with Go runtime and process metrics
// already registered.
func NewCollector(logger logging.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		logger:   logger,
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Invocations by function and outcome code.",
		}, []string{"function", "outcome", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Invocation latency by function.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"function"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "invocations_in_flight",
			Help:      "Invocations currently running.",
		}),
		counts:       make(map[string]int64),
		failures:     make(map[string]int64),
		totalSeconds: make(map[string]float64),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry for /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Begin marks an invocation as running. The returned func marks it done.
func (c *Collector) Begin() func() {
	c.inFlight.Inc()
	current := c.concurrent.Add(1)
	for {
		peak := c.peakConcurrent.Load()
		if current <= peak {
			break
		}
		if c.peakConcurrent.CompareAndSwap(peak, current) {
			break
		}
	}
	return func() {
		c.inFlight.Dec()
		c.concurrent.Add(-1)
	}
}

// RecordInvocation records one finished invocation. code is empty on success.
func (c *Collector) RecordInvocation(function string, code string, elapsed time.Duration) {
	outcome := OutcomeCompleted
	if code != "" {
		outcome = OutcomeFailed
	}
	c.invocations.WithLabelValues(function, outcome, code).Inc()
	c.duration.WithLabelValues(function).Observe(elapsed.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[function]++
	c.totalSeconds[function] += elapsed.Seconds()
	if code != "" {
		c.failures[function]++
	}

	if n := c.counts[function]; n%100 == 0 {
		avg := c.totalSeconds[function] / float64(n)
		successRate := float64(n-c.failures[function]) / float64(n) * 100.0
		c.logger.Printf("Function %s metrics: invocations=%d, avg_time=%.2fms, success_rate=%.1f%%",
			function, n, avg*1000.0, successRate)
	}
}

// InvocationCount returns the invocations recorded for function.
func (c *Collector) InvocationCount(function string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[function]
}

// PeakConcurrent returns the highest number of simultaneous invocations seen.
func (c *Collector) PeakConcurrent() int64 {
	return c.peakConcurrent.Load()
}

// RegisterCache exports the artifact cache counters.
func (c *Collector) RegisterCache(cache components.CacheInfoProvider) {
	factory := promauto.With(c.registry)
	counter := func(name, help string, value func(components.CacheStats) uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(cache.Stats())) })
	}
	counter("hits_total", "Acquires served by a loaded artifact.", func(s components.CacheStats) uint64 { return s.Hits })
	counter("misses_total", "Acquires that needed a load.", func(s components.CacheStats) uint64 { return s.Misses })
	counter("loads_total", "Artifact loads started.", func(s components.CacheStats) uint64 { return s.Loads })
	counter("load_failures_total", "Artifact loads that failed.", func(s components.CacheStats) uint64 { return s.LoadFailures })
	counter("evictions_total", "Artifacts unloaded.", func(s components.CacheStats) uint64 { return s.Evictions })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "resident",
		Help:      "Artifacts currently loaded, retired ones included.",
	}, func() float64 { return float64(cache.Stats().Resident) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "references",
		Help:      "Outstanding handle references.",
	}, func() float64 { return float64(cache.Stats().InUse) })
}

// RegisterGauge exports value as a gauge named ember_backend_<name>.
func (c *Collector) RegisterGauge(name, help string, value func() float64) {
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      name,
		Help:      help,
	}, value)
}
