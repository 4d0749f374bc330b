// Package metrics exposes the scheduler's Prometheus collectors: live
// process/thread counts, interrupt and trap totals, and idle-tick counts,
// mirroring the teacher's registry-per-subsystem construction style.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors wraps the prometheus collectors this scheduler reports.
type Collectors struct {
	registry *prometheus.Registry

	processesActive prometheus.Gauge
	threadsActive   prometheus.Gauge

	processesFinished *prometheus.CounterVec // label: outcome (ok, trap)
	interruptsTotal   prometheus.Counter
	resumesTotal      prometheus.Counter
	idleTicksTotal    prometheus.Counter

	runDuration prometheus.Histogram
}

var collectors *Collectors

// Init initializes the global collector set under namespace and registers
// the standard Go/process collectors alongside it.
func Init(namespace string) *Collectors {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collectors{
		registry: registry,

		processesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes_active",
			Help:      "Number of processes currently live in the collection.",
		}),
		threadsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads_active",
			Help:      "Number of threads currently live across all processes.",
		}),
		processesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_finished_total",
			Help:      "Total processes torn down, by outcome.",
		}, []string{"outcome"}),
		interruptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total thread suspensions on an unresolved host call.",
		}),
		resumesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resumes_total",
			Help:      "Total thread resumptions via ThreadHandle.Resume.",
		}),
		idleTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_ticks_total",
			Help:      "Total Run calls that found no ready thread.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one Collection.Run call.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		c.processesActive,
		c.threadsActive,
		c.processesFinished,
		c.interruptsTotal,
		c.resumesTotal,
		c.idleTicksTotal,
		c.runDuration,
	)

	collectors = c
	return c
}

// Global returns the collector set initialized by Init, or nil if Init was
// never called.
func Global() *Collectors { return collectors }

// SetProcessesActive records the current number of live processes.
func (c *Collectors) SetProcessesActive(n int) {
	if c == nil {
		return
	}
	c.processesActive.Set(float64(n))
}

// SetThreadsActive records the current number of live threads.
func (c *Collectors) SetThreadsActive(n int) {
	if c == nil {
		return
	}
	c.threadsActive.Set(float64(n))
}

// RecordProcessFinished records one process teardown under outcome ("ok" or
// "trap").
func (c *Collectors) RecordProcessFinished(outcome string) {
	if c == nil {
		return
	}
	c.processesFinished.WithLabelValues(outcome).Inc()
}

// RecordInterrupt records one thread suspending on an unresolved host call.
func (c *Collectors) RecordInterrupt() {
	if c == nil {
		return
	}
	c.interruptsTotal.Inc()
}

// RecordResume records one thread resumption.
func (c *Collectors) RecordResume() {
	if c == nil {
		return
	}
	c.resumesTotal.Inc()
}

// RecordIdleTick records one Run call that found no ready thread.
func (c *Collectors) RecordIdleTick() {
	if c == nil {
		return
	}
	c.idleTicksTotal.Inc()
}

// ObserveRunDuration records how long one Run call took, in seconds.
func (c *Collectors) ObserveRunDuration(seconds float64) {
	if c == nil {
		return
	}
	c.runDuration.Observe(seconds)
}

// Handler returns an HTTP handler for Prometheus scraping.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
