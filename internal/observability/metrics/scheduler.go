package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics contains Prometheus metrics for the worker pool.
// All record methods are safe to call on a nil receiver.
type SchedulerMetrics struct {
	registry *prometheus.Registry

	itemsQueuedTotal   *prometheus.CounterVec
	itemsFinishedTotal *prometheus.CounterVec
	itemDuration       *prometheus.HistogramVec
	itemWaitDuration   prometheus.Histogram
	queueDepth         prometheus.Gauge
	runningItems       prometheus.Gauge
	workers            prometheus.Gauge
	priorityMovesTotal prometheus.Counter
	mainThreadDrained  prometheus.Histogram
}

// NewSchedulerMetrics creates and registers new scheduler metrics
func NewSchedulerMetrics(registry *prometheus.Registry) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SchedulerMetrics) initMetrics() {
	m.itemsQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_items_queued_total",
			Help: "Total number of work items queued",
		},
		[]string{"context"},
	)

	m.itemsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_items_finished_total",
			Help: "Total number of work items finished by outcome",
		},
		[]string{"status"}, // completed, cancelled, panicked
	)

	m.itemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_item_duration_seconds",
			Help:    "Execution time of work items",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
		[]string{"status"},
	)

	m.itemWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_item_wait_seconds",
			Help:    "Time work items spent queued before a worker picked them up",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_queue_depth",
		Help: "Work items waiting for a worker",
	})

	m.runningItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_running_items",
		Help: "Work items currently executing",
	})

	m.workers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_workers",
		Help: "Number of worker goroutines",
	})

	m.priorityMovesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_priority_moves_total",
		Help: "Total number of queued items moved to a new priority by the update pass",
	})

	m.mainThreadDrained = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_main_thread_drained_items",
		Help:    "Items executed per main-thread queue drain",
		Buckets: prometheus.LinearBuckets(0, 4, 10),
	})
}

// Describe implements the prometheus.Collector interface
func (m *SchedulerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.itemsQueuedTotal.Describe(ch)
	m.itemsFinishedTotal.Describe(ch)
	m.itemDuration.Describe(ch)
	m.itemWaitDuration.Describe(ch)
	m.queueDepth.Describe(ch)
	m.runningItems.Describe(ch)
	m.workers.Describe(ch)
	m.priorityMovesTotal.Describe(ch)
	m.mainThreadDrained.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *SchedulerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.itemsQueuedTotal.Collect(ch)
	m.itemsFinishedTotal.Collect(ch)
	m.itemDuration.Collect(ch)
	m.itemWaitDuration.Collect(ch)
	m.queueDepth.Collect(ch)
	m.runningItems.Collect(ch)
	m.workers.Collect(ch)
	m.priorityMovesTotal.Collect(ch)
	m.mainThreadDrained.Collect(ch)
}

// RecordQueued records a work item queued under the named priority context.
func (m *SchedulerMetrics) RecordQueued(context string) {
	if m == nil {
		return
	}
	m.itemsQueuedTotal.WithLabelValues(context).Inc()
}

// RecordStarted records the wait time of an item picked up by a worker.
func (m *SchedulerMetrics) RecordStarted(waited time.Duration) {
	if m == nil {
		return
	}
	m.itemWaitDuration.Observe(waited.Seconds())
}

// RecordFinished records an item outcome and its execution time.
func (m *SchedulerMetrics) RecordFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.itemsFinishedTotal.WithLabelValues(status).Inc()
	m.itemDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// SetQueueDepth updates the queue depth gauge.
func (m *SchedulerMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetRunning updates the running items gauge.
func (m *SchedulerMetrics) SetRunning(n int) {
	if m == nil {
		return
	}
	m.runningItems.Set(float64(n))
}

// SetWorkers updates the worker count gauge.
func (m *SchedulerMetrics) SetWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}

// RecordPriorityMoves adds items moved by one priority update pass.
func (m *SchedulerMetrics) RecordPriorityMoves(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.priorityMovesTotal.Add(float64(n))
}

// RecordMainThreadDrain records the item count of one main-thread drain.
func (m *SchedulerMetrics) RecordMainThreadDrain(n int) {
	if m == nil {
		return
	}
	m.mainThreadDrained.Observe(float64(n))
}
