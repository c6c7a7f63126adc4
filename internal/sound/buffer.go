package sound

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/audiostream/internal/decode"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/lockfree"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability/metrics"
	"github.com/tphakala/audiostream/internal/packetizer"
	"github.com/tphakala/audiostream/internal/scheduler"
)

// Listener receives buffer status changes. It runs on the goroutine that
// made the change and must not block.
type Listener func(b *Buffer, status BufferStatus)

type listener struct {
	id uint64
	fn Listener
}

// decodeState is one decode pipeline: a source, the stream reading it and the
// drain queue of packets waiting for a voice. A state is never mutated after
// it is replaced; seeking installs a fresh one.
type decodeState struct {
	src    decode.Source
	stream *packetizer.Stream
	drain  *lockfree.Deque[packetizer.PacketRef]
	depth  atomic.Int32
	start  int64
}

// fed reports whether the source has produced its final packet and the voice
// has taken it.
func (st *decodeState) fed() bool {
	return st.stream.Exhausted() && st.depth.Load() == 0
}

// discard releases packets still in the drain queue.
func (st *decodeState) discard() {
	for {
		ref, ok := st.drain.TryPopFront()
		if !ok {
			return
		}
		st.depth.Add(-1)
		ref.Release()
	}
}

// Buffer owns sample data for one sound. Streaming buffers keep a decode
// pipeline that a single voice drains; static buffers decode once on a worker
// and may be played by any number of voices.
type Buffer struct {
	id     string
	name   string
	kind   Kind
	sys    *System
	format decode.Format
	frames int64
	log    logger.Logger

	status       atomic.Int32
	listeners    atomic.Pointer[[]listener]
	nextListener atomic.Uint64

	src       decode.Source
	srcClosed atomic.Bool
	start     atomic.Int64 // first frame of the initial pipeline
	state     atomic.Pointer[decodeState]
	retired   *lockfree.Deque[*decodeState]
	pending   atomic.Int32 // retired states not yet released

	memory   atomic.Pointer[decode.MemorySource]
	loader   atomic.Pointer[scheduler.WorkItem]
	cacheKey string
	loadErr  atomic.Pointer[error]

	loop atomic.Bool
	dead atomic.Bool
	// claimed is held by the voice draining a streaming buffer.
	claimed atomic.Bool
}

func newBuffer(sys *System, src decode.Source, name string, kind Kind) *Buffer {
	b := &Buffer{
		id:      uuid.NewString(),
		name:    name,
		kind:    kind,
		sys:     sys,
		format:  src.Format(),
		frames:  src.Frames(),
		src:     src,
		retired: lockfree.NewDeque[*decodeState](),
	}
	b.log = sys.log.With(logger.String("buffer", name), logger.String("kind", kind.String()))
	b.listeners.Store(&[]listener{})
	return b
}

// claim reserves a streaming buffer for one voice. Static buffers are never
// exclusive.
func (b *Buffer) claim() bool {
	return b.kind != Streaming || b.claimed.CompareAndSwap(false, true)
}

func (b *Buffer) unclaim() {
	if b.kind == Streaming {
		b.claimed.Store(false)
	}
}

// ID returns the buffer's unique identifier.
func (b *Buffer) ID() string { return b.id }

// Name returns the name the buffer was created with.
func (b *Buffer) Name() string { return b.name }

// Kind returns whether the buffer streams or holds decoded samples.
func (b *Buffer) Kind() Kind { return b.kind }

// Format returns the sample layout of the buffer.
func (b *Buffer) Format() decode.Format { return b.format }

// Frames returns the length in frames, or -1 when unknown.
func (b *Buffer) Frames() int64 { return b.frames }

// Status returns the current buffer status.
func (b *Buffer) Status() BufferStatus {
	return BufferStatus(b.status.Load())
}

// Err returns the error of the last failed load, if any.
func (b *Buffer) Err() error {
	if p := b.loadErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Loop reports whether playback wraps to the start at the end of the source.
func (b *Buffer) Loop() bool { return b.loop.Load() }

// SetLoop switches looping. Streaming buffers apply it to the packets read
// after the call.
func (b *Buffer) SetLoop(loop bool) {
	b.loop.Store(loop)
	if st := b.state.Load(); st != nil {
		st.stream.SetLoop(loop)
	}
}

// Subscribe registers fn for status changes and returns a function that
// removes it.
func (b *Buffer) Subscribe(fn Listener) (unsubscribe func()) {
	id := b.nextListener.Add(1)
	for {
		cur := b.listeners.Load()
		next := append(append(make([]listener, 0, len(*cur)+1), *cur...), listener{id: id, fn: fn})
		if b.listeners.CompareAndSwap(cur, &next) {
			break
		}
	}
	return func() {
		for {
			cur := b.listeners.Load()
			next := make([]listener, 0, len(*cur))
			for _, l := range *cur {
				if l.id != id {
					next = append(next, l)
				}
			}
			if b.listeners.CompareAndSwap(cur, &next) {
				return
			}
		}
	}
}

// transition moves the buffer to status if it is currently in one of from.
func (b *Buffer) transition(status BufferStatus, from ...BufferStatus) bool {
	for {
		cur := b.Status()
		allowed := false
		for _, f := range from {
			if cur == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
		if b.status.CompareAndSwap(int32(cur), int32(status)) {
			break
		}
	}
	b.sys.metrics.RecordBufferStatus(status.String())
	for _, l := range *b.listeners.Load() {
		l.fn(b, status)
	}
	return true
}

// Load starts decoding. Streaming buffers build their pipeline and become
// Ready once the first packet arrives; static buffers decode the whole source
// on a worker. Loading an already loading or loaded buffer does nothing.
func (b *Buffer) Load() error {
	if b.dead.Load() {
		return ErrDestroyed
	}
	if !b.transition(BufferLoading, BufferNull) {
		return nil
	}

	if b.kind == Streaming {
		return b.loadStreaming()
	}
	return b.loadStatic()
}

func (b *Buffer) loadStreaming() error {
	src := b.src
	if start := b.start.Load(); start > 0 {
		if err := src.SetPosition(start); err != nil {
			b.fail(err)
			return err
		}
	}
	st, err := b.sys.newDecodeState(b, src, b.start.Load())
	if err != nil {
		b.fail(err)
		return err
	}
	b.state.Store(st)
	st.stream.Drain()
	return nil
}

func (b *Buffer) loadStatic() error {
	if mem := b.memory.Load(); mem != nil {
		b.transition(BufferReady, BufferLoading)
		return nil
	}

	w := scheduler.NewWorkItem("load/"+b.name, b.decodeAll,
		scheduler.WithContext(b.sys.loadCtx))
	b.loader.Store(w)
	if err := b.sys.pool.Queue(w); err != nil {
		b.loader.Store(nil)
		b.fail(err)
		return err
	}
	return nil
}

// decodeAll runs on a worker and reads the whole source into memory.
func (b *Buffer) decodeAll(tok *scheduler.Token) {
	defer b.loader.CompareAndSwap(tok.Item(), nil)

	if b.src.Position() != 0 {
		if err := b.src.Reset(); err != nil {
			b.fail(err)
			return
		}
	}
	start := time.Now()
	mem, err := decode.ReadAll(b.src)
	if err != nil {
		b.failWith(errors.New(err).Timing("decode_source", time.Since(start)))
		return
	}
	b.closeSource()
	if tok.CancellationPoint() || b.dead.Load() {
		return
	}

	b.memory.Store(mem)
	if b.cacheKey != "" {
		b.sys.cachePut(b.cacheKey, mem)
	}
	b.log.Debug("static buffer decoded", logger.Int64("frames", mem.Frames()))
	b.transition(BufferReady, BufferLoading)
	b.sys.Trigger()
}

// fail records a load failure and returns the buffer to Null so it can be
// loaded again.
func (b *Buffer) fail(err error) {
	b.failWith(errors.New(err).Context("operation", "load_buffer"))
}

func (b *Buffer) failWith(eb *errors.ErrorBuilder) {
	var err error = eb.
		Component(ComponentSound).
		Category(errors.CategoryPlayback).
		Context("buffer", b.name).
		Build()
	b.loadErr.Store(&err)
	if b.dead.Load() {
		b.closeSource()
		return
	}
	b.log.Warn("buffer load failed", logger.Error(err))
	b.transition(BufferNull, BufferLoading)
}

// SeekFrame repositions a streaming buffer. It clones the current source, moves
// the clone to frame and swaps in a new pipeline built on it; the old
// pipeline is stopped and no packet it produced is handed out afterwards.
// Seeking an unloaded buffer sets the frame its first pipeline starts at.
// Static buffers have no read position and ignore SeekFrame.
func (b *Buffer) SeekFrame(frame int64) error {
	if b.dead.Load() {
		return ErrDestroyed
	}
	if b.kind == Static {
		return nil
	}
	if frame < 0 {
		return errors.Newf("seek position must not be negative, got %d", frame).
			Component(ComponentSound).
			Category(errors.CategoryValidation).
			Build()
	}
	if b.frames >= 0 {
		frame = min(frame, b.frames)
	}

	old := b.state.Load()
	if old == nil {
		b.start.Store(frame)
		return nil
	}

	cl, err := old.src.Clone()
	if err != nil {
		return errors.New(err).
			Component(ComponentSound).
			Category(errors.CategoryPlayback).
			Context("operation", "clone_source").
			Context("buffer", b.name).
			Build()
	}
	src, ok := cl.(decode.Source)
	if !ok {
		_ = closeSource(cl)
		return errors.Newf("cloned source %T cannot be positioned", cl).
			Component(ComponentSound).
			Category(errors.CategoryPlayback).
			Build()
	}
	if err := src.SetPosition(frame); err != nil {
		_ = src.Close()
		return errors.New(err).
			Component(ComponentSound).
			Category(errors.CategoryPlayback).
			Context("operation", "seek_source").
			Context("frame", frame).
			Build()
	}

	st, err := b.sys.newDecodeState(b, src, frame)
	if err != nil {
		_ = src.Close()
		return err
	}
	if !b.state.CompareAndSwap(old, st) {
		st.stream.Stop()
		_ = src.Close()
		return errors.Newf("concurrent seek on buffer %s", b.name).
			Component(ComponentSound).
			Category(errors.CategoryConflict).
			Build()
	}
	b.retire(old)
	b.transition(BufferBlocked, BufferReady, BufferAtEnd)
	st.stream.Drain()
	return nil
}

func closeSource(src packetizer.Source) error {
	if c, ok := src.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// retire stops a replaced pipeline. It is released once its in-flight read
// has finished.
func (b *Buffer) retire(st *decodeState) {
	st.stream.Stop()
	b.pending.Add(1)
	b.retired.PushBack(st)
}

// reap releases retired pipelines whose streams are idle and reports whether
// any remain.
func (b *Buffer) reap() bool {
	for range b.retired.Len() {
		st, ok := b.retired.TryPopFront()
		if !ok {
			break
		}
		if st.stream.Busy() {
			b.retired.PushBack(st)
			continue
		}
		st.discard()
		if st.src == b.src {
			b.closeSource()
		} else if err := st.src.Close(); err != nil {
			b.log.Debug("failed to close retired source", logger.Error(err))
		}
		b.pending.Add(-1)
	}
	return b.pending.Load() > 0
}

// wait blocks until every retired pipeline is idle.
func (b *Buffer) wait(ctx context.Context) error {
	for b.reap() {
		for range b.retired.Len() {
			st, ok := b.retired.TryPopFront()
			if !ok {
				break
			}
			err := st.stream.Wait(ctx)
			b.retired.PushBack(st)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// update moves completed packets into the drain queue, keeps one read in
// flight while there is room, and marks the buffer Ready once data is
// queued. It runs on the driving goroutine.
func (b *Buffer) update() {
	b.reap()
	if b.kind != Streaming || b.dead.Load() {
		return
	}
	st := b.state.Load()
	if st == nil {
		return
	}

	capacity := int32(b.sys.opts.QueueCapacity)
	for st.depth.Load() < capacity {
		ref, ok := st.stream.Next()
		if !ok {
			break
		}
		st.drain.PushBack(ref)
		st.depth.Add(1)
	}
	if st.depth.Load() < capacity {
		st.stream.Drain()
	}
	if st.depth.Load() > 0 {
		b.transition(BufferReady, BufferLoading, BufferBlocked)
	}
}

// take pops the next packet of the current pipeline.
func (b *Buffer) take() (packetizer.PacketRef, bool) {
	st := b.state.Load()
	if st == nil {
		return packetizer.PacketRef{}, false
	}
	ref, ok := st.drain.TryPopFront()
	if !ok {
		return ref, false
	}
	st.depth.Add(-1)
	if b.state.Load() != st {
		ref.Release()
		return packetizer.PacketRef{}, false
	}
	return ref, true
}

// starve reports that a playing voice found the drain queue empty with
// nothing left to play. It blocks the buffer unless the source is finished.
func (b *Buffer) starve() {
	st := b.state.Load()
	if st == nil || st.fed() {
		return
	}
	if b.transition(BufferBlocked, BufferReady) {
		b.sys.underrun(b)
	}
}

// finish marks a streaming buffer AtEnd once its final packet has played.
func (b *Buffer) finish() {
	if st := b.state.Load(); st != nil && st.fed() {
		b.transition(BufferAtEnd, BufferReady, BufferBlocked)
	}
}

// shutdown stops all decode work and reports whether released resources are
// still waiting on in-flight reads.
func (b *Buffer) shutdown() bool {
	if w := b.loader.Load(); w != nil {
		w.Cancel()
	}
	if st := b.state.Swap(nil); st != nil {
		b.retire(st)
	} else if b.memory.Load() == nil {
		// Never loaded, or the static load did not finish.
		b.releaseSource()
	}
	b.transition(BufferNull, BufferLoading, BufferReady, BufferBlocked, BufferAtEnd)
	return b.reap()
}

// releaseSource closes the original source once no loader can use it.
func (b *Buffer) releaseSource() {
	if w := b.loader.Load(); w != nil && !w.Status().Finished() {
		return
	}
	b.closeSource()
}

func (b *Buffer) closeSource() {
	if !b.srcClosed.CompareAndSwap(false, true) {
		return
	}
	if err := b.src.Close(); err != nil {
		b.log.Debug("failed to close source", logger.Error(err))
	}
}

func (b *Buffer) recordCache(hit bool) {
	if hit {
		b.sys.metrics.RecordCacheLookup(metrics.CacheHit)
	} else {
		b.sys.metrics.RecordCacheLookup(metrics.CacheMiss)
	}
}
