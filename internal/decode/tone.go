package decode

import (
	"io"
	"math"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/packetizer"
)

// ToneSource generates a sine wave, identical on every channel. Bench runs and
// virtual playback use it when no file is given.
type ToneSource struct {
	freq   float64
	amp    float32
	format Format
	frames int64 // -1 for an endless tone
	pos    int64
}

// NewTone creates a tone of freq Hz. A negative frames value makes it endless.
func NewTone(freq float64, amplitude float32, sampleRate, channels int, frames int64) (*ToneSource, error) {
	if freq <= 0 || sampleRate <= 0 || channels <= 0 {
		return nil, errors.Newf("invalid tone parameters: %.1f Hz at %d Hz, %d channels", freq, sampleRate, channels).
			Component(ComponentDecode).
			Category(errors.CategoryValidation).
			Build()
	}
	if frames < 0 {
		frames = -1
	}
	return &ToneSource{
		freq:   freq,
		amp:    amplitude,
		format: Format{SampleRate: sampleRate, Channels: channels, BitDepth: 32},
		frames: frames,
	}, nil
}

// Read implements packetizer.Source.
func (t *ToneSource) Read(dst []float32) (int, error) {
	ch := t.format.Channels
	want := int64(len(dst) / ch)
	if t.frames >= 0 {
		want = min(want, t.frames-t.pos)
	}
	if want <= 0 {
		if t.frames >= 0 && t.pos >= t.frames {
			return 0, io.EOF
		}
		return 0, nil
	}

	step := 2 * math.Pi * t.freq / float64(t.format.SampleRate)
	for i := range want {
		v := t.amp * float32(math.Sin(step*float64(t.pos+i)))
		for c := range ch {
			dst[int(i)*ch+c] = v
		}
	}
	t.pos += want
	return int(want) * ch, nil
}

// Reset implements packetizer.Resetter.
func (t *ToneSource) Reset() error {
	t.pos = 0
	return nil
}

// Position returns the current frame.
func (t *ToneSource) Position() int64 { return t.pos }

// SetPosition moves to frame.
func (t *ToneSource) SetPosition(frame int64) error {
	frame = max(0, frame)
	if t.frames >= 0 {
		frame = min(frame, t.frames)
	}
	t.pos = frame
	return nil
}

// Clone returns a new tone with the same parameters.
func (t *ToneSource) Clone() (packetizer.Source, error) {
	c := *t
	c.pos = 0
	return &c, nil
}

// Format implements Source.
func (t *ToneSource) Format() Format { return t.format }

// Frames implements Source.
func (t *ToneSource) Frames() int64 { return t.frames }

// Close implements Source.
func (t *ToneSource) Close() error { return nil }
