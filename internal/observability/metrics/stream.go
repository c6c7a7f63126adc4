package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains Prometheus metrics for packetizing and the timed packet queue.
// All record methods are safe to call on a nil receiver.
type StreamMetrics struct {
	registry *prometheus.Registry

	packetsReadTotal      prometheus.Counter
	packetFill            prometheus.Histogram
	loopsTotal            prometheus.Counter
	readErrorsTotal       prometheus.Counter
	packetsSubmittedTotal *prometheus.CounterVec
	packetsEvictedTotal   prometheus.Counter
	poolAllocationsTotal  *prometheus.CounterVec
	poolInUse             prometheus.Gauge
}

// NewStreamMetrics creates and registers new stream metrics
func NewStreamMetrics(registry *prometheus.Registry) (*StreamMetrics, error) {
	m := &StreamMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.packetsReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_packets_read_total",
		Help: "Total number of packets filled from sources",
	})

	m.packetFill = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stream_packet_fill_ratio",
		Help:    "Fraction of each packet filled with source samples",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	m.loopsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_loops_total",
		Help: "Total number of source resets at a loop boundary",
	})

	m.readErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_read_errors_total",
		Help: "Total number of source read errors",
	})

	m.packetsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_packets_submitted_total",
			Help: "Total number of packets submitted to timed queues",
		},
		[]string{"result"}, // queued, dropped
	)

	m.packetsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_packets_evicted_total",
		Help: "Total number of packet records evicted after the clock passed them",
	})

	m.poolAllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_packet_pool_allocations_total",
			Help: "Total number of packet pool allocations by source",
		},
		[]string{"source"}, // fresh, reused
	)

	m.poolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_packet_pool_in_use",
		Help: "Packets currently held out of the pool",
	})
}

// Describe implements the prometheus.Collector interface
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.packetsReadTotal.Describe(ch)
	m.packetFill.Describe(ch)
	m.loopsTotal.Describe(ch)
	m.readErrorsTotal.Describe(ch)
	m.packetsSubmittedTotal.Describe(ch)
	m.packetsEvictedTotal.Describe(ch)
	m.poolAllocationsTotal.Describe(ch)
	m.poolInUse.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	m.packetsReadTotal.Collect(ch)
	m.packetFill.Collect(ch)
	m.loopsTotal.Collect(ch)
	m.readErrorsTotal.Collect(ch)
	m.packetsSubmittedTotal.Collect(ch)
	m.packetsEvictedTotal.Collect(ch)
	m.poolAllocationsTotal.Collect(ch)
	m.poolInUse.Collect(ch)
}

// RecordPacketRead records one filled packet and how much of it holds source data.
func (m *StreamMetrics) RecordPacketRead(valid, capacity int) {
	if m == nil {
		return
	}
	m.packetsReadTotal.Inc()
	if capacity > 0 {
		m.packetFill.Observe(float64(valid) / float64(capacity))
	}
}

// RecordLoop records a source reset at a loop boundary.
func (m *StreamMetrics) RecordLoop() {
	if m == nil {
		return
	}
	m.loopsTotal.Inc()
}

// RecordReadError records a failed source read.
func (m *StreamMetrics) RecordReadError() {
	if m == nil {
		return
	}
	m.readErrorsTotal.Inc()
}

// RecordSubmit records a packet submission result.
func (m *StreamMetrics) RecordSubmit(result string) {
	if m == nil {
		return
	}
	m.packetsSubmittedTotal.WithLabelValues(result).Inc()
}

// RecordEvicted adds evicted packet records.
func (m *StreamMetrics) RecordEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.packetsEvictedTotal.Add(float64(n))
}

// RecordPoolAlloc records a packet pool allocation.
func (m *StreamMetrics) RecordPoolAlloc(source string) {
	if m == nil {
		return
	}
	m.poolAllocationsTotal.WithLabelValues(source).Inc()
}

// SetPoolInUse updates the packets-in-use gauge.
func (m *StreamMetrics) SetPoolInUse(n int64) {
	if m == nil {
		return
	}
	m.poolInUse.Set(float64(n))
}
