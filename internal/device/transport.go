package device

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/audiostream/internal/errors"
)

const bytesPerSample = 4

// ringTransport is the Transport shared by all backends. Writers encode
// samples into a byte ring; the backend's mixer pulls from it on the device
// side. Status and position are atomics so the mixer never blocks on them.
type ringTransport struct {
	mixer    *mixer
	channels int
	ring     *ringbuffer.RingBuffer
	status   atomic.Int32
	position atomic.Int64 // frames consumed

	encode []byte // writer-side scratch
	decode []byte // mixer-side scratch
}

func newRingTransport(m *mixer, channels, ringFrames int) *ringTransport {
	return &ringTransport{
		mixer:    m,
		channels: channels,
		ring:     ringbuffer.New(ringFrames * channels * bytesPerSample),
	}
}

func (t *ringTransport) Play() error {
	return t.setStatus(StatusPlaying)
}

func (t *ringTransport) Pause() error {
	return t.setStatus(StatusPaused)
}

func (t *ringTransport) Stop() error {
	if err := t.setStatus(StatusStopped); err != nil {
		return err
	}
	t.ring.Reset()
	return nil
}

func (t *ringTransport) setStatus(s Status) error {
	for {
		cur := Status(t.status.Load())
		if cur == StatusClosed {
			return ErrClosed
		}
		if t.status.CompareAndSwap(int32(cur), int32(s)) {
			return nil
		}
	}
}

func (t *ringTransport) SeekFrame(frame int64) error {
	if t.Status() == StatusClosed {
		return ErrClosed
	}
	t.ring.Reset()
	t.position.Store(max(0, frame))
	return nil
}

func (t *ringTransport) Tell() int64 {
	return t.position.Load()
}

func (t *ringTransport) Status() Status {
	return Status(t.status.Load())
}

func (t *ringTransport) Write(samples []float32) error {
	if t.Status() == StatusClosed {
		return ErrClosed
	}
	n := len(samples) * bytesPerSample
	if t.ring.Free() < n {
		return ErrRingFull
	}
	if cap(t.encode) < n {
		t.encode = make([]byte, n)
	}
	buf := t.encode[:n]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(v))
	}
	if _, err := t.ring.Write(buf); err != nil {
		return errors.New(err).
			Component(ComponentDevice).
			Category(errors.CategoryDevice).
			Context("operation", "ring_write").
			Context("bytes", n).
			Build()
	}
	return nil
}

func (t *ringTransport) Queued() int {
	return t.ring.Length() / (bytesPerSample * t.channels)
}

func (t *ringTransport) Close() error {
	if Status(t.status.Swap(int32(StatusClosed))) == StatusClosed {
		return nil
	}
	t.mixer.remove(t)
	t.ring.Reset()
	return nil
}

// pull adds up to len(out)/channels frames of queued samples into out and
// advances the position by the frames consumed. A transport that is not
// playing contributes nothing. It returns the frames delivered and the frames
// missing because the ring ran dry.
func (t *ringTransport) pull(out []float32) (delivered, missing int) {
	if t.Status() != StatusPlaying {
		return 0, 0
	}
	frames := len(out) / t.channels
	want := frames * t.channels * bytesPerSample
	if cap(t.decode) < want {
		t.decode = make([]byte, want)
	}
	buf := t.decode[:want]

	n, _ := t.ring.Read(buf)
	n -= n % (t.channels * bytesPerSample)
	for i := 0; i < n; i += bytesPerSample {
		out[i/bytesPerSample] += math.Float32frombits(binary.LittleEndian.Uint32(buf[i:]))
	}

	delivered = n / (t.channels * bytesPerSample)
	t.position.Add(int64(delivered))
	return delivered, frames - delivered
}
