package sound

import (
	"runtime"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"

	"github.com/tphakala/audiostream/internal/device"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/timedqueue"
)

// Voice plays one buffer through a transport. Multi-step changes move the
// status into VoiceTransition first; only the goroutine that won that CAS
// touches the transport, and it re-evaluates the buffer status on the way
// out so notifications that arrived meanwhile are not lost.
type Voice struct {
	id        string
	sys       *System
	buffer    weak.Pointer[Buffer]
	kind      Kind
	channels  int
	frames    int64
	transport device.Transport
	virtual   bool
	queue     *timedqueue.Queue[[]float32]
	log       logger.Logger

	status      atomic.Int32
	offset      atomic.Int64 // voice position minus transport position
	pendingSeek atomic.Int64 // -1 when no seek is waiting for the driving goroutine
	rewind      atomic.Bool  // the next Play starts from frame zero

	cursor      int64 // next static frame to submit, driving goroutine only
	unsubscribe func()
}

func newVoice(sys *System, b *Buffer, transport device.Transport, virtual bool) (*Voice, error) {
	v := &Voice{
		id:        uuid.NewString(),
		sys:       sys,
		buffer:    weak.Make(b),
		kind:      b.kind,
		channels:  b.format.Channels,
		frames:    b.frames,
		transport: transport,
		virtual:   virtual,
	}
	v.log = sys.log.With(logger.String("voice", v.id), logger.String("buffer", b.name), logger.Bool("virtual", virtual))
	v.status.Store(int32(VoiceStopped))
	v.pendingSeek.Store(-1)

	q, err := timedqueue.New[[]float32](
		timedqueue.ClockFunc(v.position),
		timedqueue.SinkFunc[[]float32](transport.Write),
		timedqueue.Options{
			Capacity: sys.opts.QueueCapacity,
			DropLate: sys.opts.DropLate,
			Metrics:  sys.streamMetrics,
		})
	if err != nil {
		return nil, err
	}
	v.queue = q
	v.unsubscribe = b.Subscribe(func(*Buffer, BufferStatus) { v.reconcile() })
	return v, nil
}

// ID returns the voice's unique identifier.
func (v *Voice) ID() string { return v.id }

// Virtual reports whether the voice plays silently on a virtual timer.
func (v *Voice) Virtual() bool { return v.virtual }

// Status returns the current voice status. Observers may see
// VoiceTransition while another goroutine is changing it.
func (v *Voice) Status() VoiceStatus {
	return VoiceStatus(v.status.Load())
}

// Buffer returns the bound buffer, or nil once it has been collected.
func (v *Voice) Buffer() *Buffer {
	return v.buffer.Value()
}

// position is the playback clock of the voice's packet queue.
func (v *Voice) position() int64 {
	return v.transport.Tell() + v.offset.Load()
}

// Tell returns the current frame within the buffer. A requested seek is
// reported immediately, before the driving goroutine has applied it.
func (v *Voice) Tell() int64 {
	if p := v.pendingSeek.Load(); p >= 0 {
		return p
	}
	pos := v.position()
	if v.frames > 0 && pos >= v.frames {
		if b := v.Buffer(); b != nil && b.Loop() {
			return pos % v.frames
		}
		return v.frames
	}
	return pos
}

// acquire moves the voice into VoiceTransition from one of from and returns
// the status it left. It waits out transitions held by other goroutines.
func (v *Voice) acquire(from ...VoiceStatus) (VoiceStatus, bool) {
	for {
		cur := v.Status()
		if cur == VoiceTransition {
			runtime.Gosched()
			continue
		}
		allowed := false
		for _, f := range from {
			if cur == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return cur, false
		}
		if v.status.CompareAndSwap(int32(cur), int32(VoiceTransition)) {
			return cur, true
		}
	}
}

// settle leaves VoiceTransition for status and re-checks the buffer.
func (v *Voice) settle(status VoiceStatus) {
	v.status.Store(int32(status))
	v.sys.metrics.RecordVoiceStatus(status.String())
	if status != VoiceNull {
		v.reconcile()
	}
}

func (v *Voice) transportErr(op string, err error) {
	if err != nil && !errors.Is(err, device.ErrClosed) {
		v.log.Warn("transport operation failed", logger.String("operation", op), logger.Error(err))
	}
}

// Play starts or resumes playback. An unloaded buffer starts loading; until
// its data arrives the voice waits in VoiceBlocked.
func (v *Voice) Play() error {
	prev, ok := v.acquire(VoiceStopped, VoicePaused)
	if !ok {
		if prev == VoiceNull {
			return ErrDestroyed
		}
		return nil
	}

	if prev == VoiceStopped && v.rewind.Swap(false) {
		v.pendingSeek.CompareAndSwap(-1, 0)
	}

	b := v.Buffer()
	if b == nil || b.dead.Load() {
		v.settle(VoiceStopped)
		return ErrDestroyed
	}
	if b.Status() == BufferNull {
		if err := b.Load(); err != nil {
			v.settle(prev)
			return err
		}
	}

	target := VoiceBlocked
	if b.Status() == BufferReady && v.pendingSeek.Load() < 0 {
		v.transportErr("play", v.transport.Play())
		target = VoicePlaying
	}
	v.settle(target)
	v.sys.Trigger()
	return nil
}

// Pause holds the current position.
func (v *Voice) Pause() error {
	prev, ok := v.acquire(VoicePlaying, VoiceBlocked)
	if !ok {
		if prev == VoiceNull {
			return ErrDestroyed
		}
		return nil
	}
	v.transportErr("pause", v.transport.Pause())
	v.settle(VoicePaused)
	return nil
}

// Stop halts playback. The next Play starts from the beginning.
func (v *Voice) Stop() error {
	prev, ok := v.acquire(VoicePlaying, VoiceBlocked, VoicePaused)
	if !ok {
		if prev == VoiceNull {
			return ErrDestroyed
		}
		return nil
	}
	v.transportErr("stop", v.transport.Stop())
	v.rewind.Store(true)
	v.settle(VoiceStopped)
	return nil
}

// SeekFrame requests playback from frame. The driving goroutine applies it on its
// next update: a streaming buffer swaps in a fresh pipeline, the transport is
// flushed and the packet queue restarts at frame.
func (v *Voice) SeekFrame(frame int64) error {
	if v.Status() == VoiceNull {
		return ErrDestroyed
	}
	if frame < 0 {
		return errors.Newf("seek position must not be negative, got %d", frame).
			Component(ComponentSound).
			Category(errors.CategoryValidation).
			Build()
	}
	if v.frames >= 0 {
		frame = min(frame, v.frames)
	}
	v.rewind.Store(false)
	v.pendingSeek.Store(frame)
	v.sys.Trigger()
	return nil
}

// reconcile mirrors the buffer status: AtEnd stops the voice, a buffer that
// runs dry pauses a playing voice and a refilled buffer resumes a blocked
// one. It returns without waiting when another goroutine holds the
// transition, which re-runs reconcile as it settles.
func (v *Voice) reconcile() {
	for {
		cur := v.Status()
		switch cur {
		case VoiceTransition, VoiceNull, VoiceStopped, VoicePaused:
			return
		}

		bs := BufferAtEnd
		if b := v.Buffer(); b != nil && !b.dead.Load() {
			bs = b.Status()
		}
		seeking := v.pendingSeek.Load() >= 0
		if seeking && bs == BufferAtEnd {
			bs = BufferBlocked
		}

		var target VoiceStatus
		var act func() error
		switch {
		case bs == BufferAtEnd:
			target, act = VoiceStopped, v.transport.Stop
		case cur == VoicePlaying && bs != BufferReady:
			target, act = VoiceBlocked, v.transport.Pause
		case cur == VoiceBlocked && bs == BufferReady && !seeking:
			target, act = VoicePlaying, v.transport.Play
		default:
			return
		}

		if !v.status.CompareAndSwap(int32(cur), int32(VoiceTransition)) {
			continue
		}
		v.transportErr(target.String(), act())
		if target == VoiceStopped {
			v.rewind.Store(true)
		}
		v.status.Store(int32(target))
		v.sys.metrics.RecordVoiceStatus(target.String())
	}
}

// update runs on the driving goroutine: it applies a requested seek and keeps
// the packet queue fed.
func (v *Voice) update() {
	if v.Status() == VoiceNull {
		return
	}
	b := v.Buffer()
	if b == nil || b.dead.Load() {
		v.reconcile()
		return
	}

	if p := v.pendingSeek.Load(); p >= 0 {
		v.applySeek(b, p)
		v.pendingSeek.CompareAndSwap(p, -1)
		v.reconcile()
	}

	switch v.Status() {
	case VoicePlaying, VoiceBlocked, VoicePaused:
		v.feed(b)
	}
}

func (v *Voice) applySeek(b *Buffer, frame int64) {
	if err := b.SeekFrame(frame); err != nil {
		v.log.Warn("buffer seek failed", logger.Int64("frame", frame), logger.Error(err))
	}
	v.transportErr("seek", v.transport.SeekFrame(frame))
	v.offset.Store(frame - v.transport.Tell())
	v.queue.Reset(frame)
	v.cursor = frame
}

// feed submits packets while the queue has room.
func (v *Voice) feed(b *Buffer) {
	for v.queue.NeedPacket() {
		var more bool
		if v.kind == Static {
			more = v.feedStatic(b)
		} else {
			more = v.feedStream(b)
		}
		if !more {
			break
		}
	}

	if v.queue.IsAtEnd() {
		if v.kind == Streaming {
			b.finish()
		} else {
			v.finish()
		}
	}
}

func (v *Voice) feedStream(b *Buffer) bool {
	ref, ok := b.take()
	if !ok {
		if v.queue.Len() == 0 && v.Status() == VoicePlaying {
			b.starve()
		}
		return false
	}
	defer ref.Release()

	p := ref.Value()
	frames := int64(p.ValidFrames())
	if frames > 0 {
		v.queue.SubmitPacket(p.Samples[:p.Valid], frames, p.IsLast, nil)
	} else if p.IsLast {
		v.queue.SetTotalDuration(v.queue.NextPosition())
	}
	return !p.IsLast
}

func (v *Voice) feedStatic(b *Buffer) bool {
	mem := b.memory.Load()
	if mem == nil {
		return false
	}
	samples := mem.Samples()
	total := int64(len(samples) / v.channels)
	if total == 0 {
		v.finish()
		return false
	}
	if v.cursor >= total {
		if !b.Loop() {
			return false
		}
		v.cursor = 0
	}

	n := min(int64(v.sys.opts.PacketFrames), total-v.cursor)
	last := v.cursor+n >= total && !b.Loop()
	v.queue.SubmitPacket(samples[v.cursor*int64(v.channels):(v.cursor+n)*int64(v.channels)], n, last, nil)
	v.cursor += n
	return !last
}

// finish stops a static voice whose last packet has played.
func (v *Voice) finish() {
	if _, ok := v.acquire(VoicePlaying, VoiceBlocked); !ok {
		return
	}
	v.transportErr("stop", v.transport.Stop())
	v.rewind.Store(true)
	v.settle(VoiceStopped)
}

// destroy releases the transport. The voice is unusable afterwards.
func (v *Voice) destroy() {
	prev, ok := v.acquire(VoiceStopped, VoicePaused, VoicePlaying, VoiceBlocked)
	if !ok {
		return
	}
	v.unsubscribe()
	if prev != VoiceStopped {
		v.transportErr("stop", v.transport.Stop())
	}
	v.transportErr("close", v.transport.Close())
	v.settle(VoiceNull)
}
