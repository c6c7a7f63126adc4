package device

import (
	"sync/atomic"

	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// mixer sums every open transport into a device buffer. The transport list is
// copy-on-write behind an atomic pointer so the device callback reads it
// without locking.
type mixer struct {
	format     Format
	ringFrames int
	maxVoices  int
	voices     atomic.Pointer[[]*ringTransport]
	metrics    *metrics.PlaybackMetrics
}

func newMixer(format Format, ringFrames, maxVoices int, m *metrics.PlaybackMetrics) *mixer {
	mx := &mixer{format: format, ringFrames: ringFrames, maxVoices: maxVoices, metrics: m}
	mx.voices.Store(&[]*ringTransport{})
	return mx
}

func (m *mixer) open() (*ringTransport, error) {
	t := newRingTransport(m, m.format.Channels, m.ringFrames)
	for {
		cur := m.voices.Load()
		if m.maxVoices > 0 && len(*cur) >= m.maxVoices {
			return nil, ErrNoChannel
		}
		next := make([]*ringTransport, len(*cur), len(*cur)+1)
		copy(next, *cur)
		next = append(next, t)
		if m.voices.CompareAndSwap(cur, &next) {
			return t, nil
		}
	}
}

func (m *mixer) remove(t *ringTransport) {
	for {
		cur := m.voices.Load()
		next := make([]*ringTransport, 0, len(*cur))
		for _, v := range *cur {
			if v != t {
				next = append(next, v)
			}
		}
		if m.voices.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (m *mixer) active() int {
	return len(*m.voices.Load())
}

// mix clears out and sums all playing transports into it, clipping to [-1, 1].
func (m *mixer) mix(out []float32) {
	clear(out)
	delivered, missing := 0, 0
	for _, t := range *m.voices.Load() {
		d, u := t.pull(out)
		delivered += d
		missing += u
	}
	for i, v := range out {
		out[i] = max(-1, min(1, v))
	}
	m.metrics.RecordDeviceFrames(delivered, missing)
}

func (m *mixer) closeAll() {
	for _, t := range *m.voices.Load() {
		_ = t.Close()
	}
}
