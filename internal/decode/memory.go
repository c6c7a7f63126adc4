package decode

import (
	"io"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/packetizer"
)

// MemorySource serves interleaved samples from a slice. Clones share the
// slice, which is never written.
type MemorySource struct {
	samples []float32
	format  Format
	pos     int // sample offset
}

// NewMemorySource wraps interleaved samples.
func NewMemorySource(samples []float32, sampleRate, channels int) (*MemorySource, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, errors.Newf("invalid memory source layout: %d Hz, %d channels", sampleRate, channels).
			Component(ComponentDecode).
			Category(errors.CategoryValidation).
			Build()
	}
	if len(samples)%channels != 0 {
		return nil, errors.Newf("sample count %d is not a multiple of %d channels", len(samples), channels).
			Component(ComponentDecode).
			Category(errors.CategoryValidation).
			Build()
	}
	return &MemorySource{
		samples: samples,
		format:  Format{SampleRate: sampleRate, Channels: channels, BitDepth: 32},
	}, nil
}

// ReadAll drains src into a MemorySource. One-shot buffers decode through it.
func ReadAll(src Source) (*MemorySource, error) {
	f := src.Format()
	var out []float32
	if n := src.Frames(); n > 0 {
		out = make([]float32, 0, n*int64(f.Channels))
	}
	chunk := make([]float32, 4096*f.Channels)
	for {
		n, err := src.Read(chunk)
		out = append(out, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	out = out[:len(out)-len(out)%f.Channels]
	return NewMemorySource(out, f.SampleRate, f.Channels)
}

// Read implements packetizer.Source.
func (m *MemorySource) Read(dst []float32) (int, error) {
	if m.pos >= len(m.samples) {
		return 0, io.EOF
	}
	n := copy(dst, m.samples[m.pos:])
	m.pos += n
	return n, nil
}

// Reset implements packetizer.Resetter.
func (m *MemorySource) Reset() error {
	m.pos = 0
	return nil
}

// Position returns the current frame.
func (m *MemorySource) Position() int64 {
	return int64(m.pos / m.format.Channels)
}

// SetPosition moves to frame, clamped to the stream length.
func (m *MemorySource) SetPosition(frame int64) error {
	frame = max(0, min(frame, m.Frames()))
	m.pos = int(frame) * m.format.Channels
	return nil
}

// Clone returns a source over the same samples positioned at the start.
func (m *MemorySource) Clone() (packetizer.Source, error) {
	return &MemorySource{samples: m.samples, format: m.format}, nil
}

// Samples returns the underlying samples. Callers must not modify them.
func (m *MemorySource) Samples() []float32 { return m.samples }

// Format implements Source.
func (m *MemorySource) Format() Format { return m.format }

// Frames implements Source.
func (m *MemorySource) Frames() int64 {
	return int64(len(m.samples) / m.format.Channels)
}

// Close implements Source.
func (m *MemorySource) Close() error { return nil }
