package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PlaybackMetrics contains Prometheus metrics for buffers, voices and devices.
// All record methods are safe to call on a nil receiver.
type PlaybackMetrics struct {
	registry *prometheus.Registry

	buffersActive         prometheus.Gauge
	voicesActive          prometheus.Gauge
	bufferStatusTotal     *prometheus.CounterVec
	voiceStatusTotal      *prometheus.CounterVec
	underrunsTotal        prometheus.Counter
	voiceAllocFailures    prometheus.Counter
	updateDuration        prometheus.Histogram
	cacheLookupsTotal     *prometheus.CounterVec
	deviceFramesTotal     prometheus.Counter
	deviceUnderflowFrames prometheus.Counter
}

// NewPlaybackMetrics creates and registers new playback metrics
func NewPlaybackMetrics(registry *prometheus.Registry) (*PlaybackMetrics, error) {
	m := &PlaybackMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PlaybackMetrics) initMetrics() {
	m.buffersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_buffers_active",
		Help: "Sound buffers currently alive",
	})

	m.voicesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_voices_active",
		Help: "Voices currently holding a playback channel",
	})

	m.bufferStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_buffer_status_transitions_total",
			Help: "Total number of buffer status transitions by target status",
		},
		[]string{"status"},
	)

	m.voiceStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_voice_status_transitions_total",
			Help: "Total number of voice status transitions by target status",
		},
		[]string{"status"},
	)

	m.underrunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_underruns_total",
		Help: "Total number of times a playing voice blocked on an empty buffer",
	})

	m.voiceAllocFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_voice_allocation_failures_total",
		Help: "Total number of voice requests refused because all channels were busy",
	})

	m.updateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_update_duration_seconds",
		Help:    "Duration of one system update pass",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~80ms
	})

	m.cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_buffer_cache_lookups_total",
			Help: "Total number of one-shot buffer cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	m.deviceFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_device_frames_total",
		Help: "Total number of frames delivered to the device",
	})

	m.deviceUnderflowFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_device_underflow_frames_total",
		Help: "Total number of silent frames the device callback had to insert",
	})
}

// Describe implements the prometheus.Collector interface
func (m *PlaybackMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.buffersActive.Describe(ch)
	m.voicesActive.Describe(ch)
	m.bufferStatusTotal.Describe(ch)
	m.voiceStatusTotal.Describe(ch)
	m.underrunsTotal.Describe(ch)
	m.voiceAllocFailures.Describe(ch)
	m.updateDuration.Describe(ch)
	m.cacheLookupsTotal.Describe(ch)
	m.deviceFramesTotal.Describe(ch)
	m.deviceUnderflowFrames.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *PlaybackMetrics) Collect(ch chan<- prometheus.Metric) {
	m.buffersActive.Collect(ch)
	m.voicesActive.Collect(ch)
	m.bufferStatusTotal.Collect(ch)
	m.voiceStatusTotal.Collect(ch)
	m.underrunsTotal.Collect(ch)
	m.voiceAllocFailures.Collect(ch)
	m.updateDuration.Collect(ch)
	m.cacheLookupsTotal.Collect(ch)
	m.deviceFramesTotal.Collect(ch)
	m.deviceUnderflowFrames.Collect(ch)
}

// SetBuffersActive updates the live buffer gauge.
func (m *PlaybackMetrics) SetBuffersActive(n int) {
	if m == nil {
		return
	}
	m.buffersActive.Set(float64(n))
}

// SetVoicesActive updates the live voice gauge.
func (m *PlaybackMetrics) SetVoicesActive(n int) {
	if m == nil {
		return
	}
	m.voicesActive.Set(float64(n))
}

// RecordBufferStatus records a buffer entering status.
func (m *PlaybackMetrics) RecordBufferStatus(status string) {
	if m == nil {
		return
	}
	m.bufferStatusTotal.WithLabelValues(status).Inc()
}

// RecordVoiceStatus records a voice entering status.
func (m *PlaybackMetrics) RecordVoiceStatus(status string) {
	if m == nil {
		return
	}
	m.voiceStatusTotal.WithLabelValues(status).Inc()
}

// RecordUnderrun records a playing voice blocking on its buffer.
func (m *PlaybackMetrics) RecordUnderrun() {
	if m == nil {
		return
	}
	m.underrunsTotal.Inc()
}

// RecordVoiceAllocFailure records a refused voice request.
func (m *PlaybackMetrics) RecordVoiceAllocFailure() {
	if m == nil {
		return
	}
	m.voiceAllocFailures.Inc()
}

// RecordUpdate records the duration of an update pass.
func (m *PlaybackMetrics) RecordUpdate(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.updateDuration.Observe(elapsed.Seconds())
}

// RecordCacheLookup records a buffer cache hit or miss.
func (m *PlaybackMetrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordDeviceFrames records frames delivered to the device and silent frames
// inserted because the ring ran dry.
func (m *PlaybackMetrics) RecordDeviceFrames(delivered, underflow int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.deviceFramesTotal.Add(float64(delivered))
	}
	if underflow > 0 {
		m.deviceUnderflowFrames.Add(float64(underflow))
	}
}
