package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utkarsh5026/offload/pool"
)

// Metrics holds the prometheus collectors fed by runtime hooks.
type Metrics struct {
	reg       prometheus.Registerer
	completed *prometheus.CounterVec
	duration  prometheus.Histogram
	retries   prometheus.Counter
	evictions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offload_tasks_completed_total",
				Help: "Tasks that reached a final outcome, by status.",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "offload_task_duration_seconds",
				Help:    "Time spent processing a task, including retries, in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "offload_task_retries_total",
				Help: "Retries of failed processing attempts.",
			},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offload_results_evicted_total",
				Help: "Outcomes removed from the result store, by reason.",
			},
			[]string{"reason"},
		),
	}

	for _, c := range []prometheus.Collector{m.completed, m.duration, m.retries, m.evictions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// pre-initialize label combinations so they export zero from startup
	for _, s := range []pool.Status{pool.StatusSucceeded, pool.StatusFailed} {
		m.completed.WithLabelValues(s.String())
	}
	for _, r := range []pool.EvictReason{pool.EvictExpired, pool.EvictMemory} {
		m.evictions.WithLabelValues(r.String())
	}
	return m, nil
}

// Options returns the runtime hooks that feed the collectors.
func (m *Metrics) Options() []pool.Option {
	return []pool.Option{
		pool.WithOnTaskEnd(func(_ pool.Task, out pool.Outcome, elapsed time.Duration) {
			m.completed.WithLabelValues(out.Status.String()).Inc()
			m.duration.Observe(elapsed.Seconds())
		}),
		pool.WithOnRetry(func(pool.Task, int, error) {
			m.retries.Inc()
		}),
		pool.WithEvictHook(func(_ string, reason pool.EvictReason) {
			m.evictions.WithLabelValues(reason.String()).Inc()
		}),
	}
}

// Observe exports gauges read from rt on every scrape.
func (m *Metrics) Observe(rt *pool.Runtime) error {
	gauge := func(name, help string, read func(pool.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return read(rt.Stats()) },
		)
	}
	counter := func(name, help string, read func(pool.Stats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return read(rt.Stats()) },
		)
	}

	collectors := []prometheus.Collector{
		gauge("offload_queue_size", "Tasks waiting for a worker.",
			func(s pool.Stats) float64 { return float64(s.QueueSize) }),
		gauge("offload_queue_capacity", "Configured queue bound.",
			func(s pool.Stats) float64 { return float64(s.QueueCapacity) }),
		gauge("offload_pending_tasks", "Accepted tasks without an outcome.",
			func(s pool.Stats) float64 { return float64(s.PendingCount) }),
		gauge("offload_results_stored", "Outcomes held in the result store.",
			func(s pool.Stats) float64 { return float64(s.ResultsCount) }),
		gauge("offload_results_memory_bytes", "Bytes held by stored outcomes.",
			func(s pool.Stats) float64 { return float64(s.MemoryUsedBytes) }),
		gauge("offload_worker_threads", "Configured worker threads.",
			func(s pool.Stats) float64 { return float64(s.WorkerThreads) }),
		counter("offload_tasks_submitted_total", "Tasks accepted by Submit.",
			func(s pool.Stats) float64 { return float64(s.Submitted) }),
		counter("offload_tasks_rejected_total", "Submissions refused for capacity.",
			func(s pool.Stats) float64 { return float64(s.Rejected) }),
		counter("offload_tasks_dropped_total", "Finished tasks whose outcome was discarded by ClearAll.",
			func(s pool.Stats) float64 { return float64(s.Dropped) }),
	}
	for _, c := range collectors {
		if err := m.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
