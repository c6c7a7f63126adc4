package sound

import (
	"sync/atomic"
	"time"

	"github.com/tphakala/audiostream/internal/device"
)

// virtualTransport is the transport of a voice that could not get a playback
// channel. It discards samples and derives its position from elapsed time
// while playing, so status and end-of-stream logic behave as if audible.
type virtualTransport struct {
	rate   int64
	now    func() time.Time
	status atomic.Int32
	origin atomic.Int64 // frame position at base
	base   atomic.Int64 // unix nanoseconds the origin applies from
}

var _ device.Transport = (*virtualTransport)(nil)

func newVirtualTransport(rate int, now func() time.Time) *virtualTransport {
	t := &virtualTransport{rate: int64(rate), now: now}
	t.base.Store(now().UnixNano())
	return t
}

func (t *virtualTransport) elapsedFrames() int64 {
	return (t.now().UnixNano() - t.base.Load()) * t.rate / int64(time.Second)
}

func (t *virtualTransport) Play() error {
	if t.Status() == device.StatusClosed {
		return device.ErrClosed
	}
	if t.Status() != device.StatusPlaying {
		t.base.Store(t.now().UnixNano())
		t.status.Store(int32(device.StatusPlaying))
	}
	return nil
}

func (t *virtualTransport) hold(s device.Status) error {
	if t.Status() == device.StatusClosed {
		return device.ErrClosed
	}
	t.origin.Store(t.Tell())
	t.status.Store(int32(s))
	return nil
}

func (t *virtualTransport) Pause() error {
	return t.hold(device.StatusPaused)
}

func (t *virtualTransport) Stop() error {
	return t.hold(device.StatusStopped)
}

func (t *virtualTransport) SeekFrame(frame int64) error {
	if t.Status() == device.StatusClosed {
		return device.ErrClosed
	}
	t.base.Store(t.now().UnixNano())
	t.origin.Store(max(0, frame))
	return nil
}

func (t *virtualTransport) Tell() int64 {
	if t.Status() != device.StatusPlaying {
		return t.origin.Load()
	}
	return t.origin.Load() + t.elapsedFrames()
}

func (t *virtualTransport) Status() device.Status {
	return device.Status(t.status.Load())
}

func (t *virtualTransport) Write([]float32) error {
	if t.Status() == device.StatusClosed {
		return device.ErrClosed
	}
	return nil
}

func (t *virtualTransport) Queued() int {
	return 0
}

func (t *virtualTransport) Close() error {
	t.status.Store(int32(device.StatusClosed))
	return nil
}
