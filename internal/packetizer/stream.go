package packetizer

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/lockfree"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability/metrics"
	"github.com/tphakala/audiostream/internal/scheduler"
)

// maxEmptyReads bounds consecutive zero-length reads without an error before
// the source is treated as stalled.
const maxEmptyReads = 64

// Options configures a Stream
type Options struct {
	Name     string // used in work item names and logs
	Loop     bool
	Priority float64
	Context  *scheduler.PriorityContext
	Metrics  *metrics.StreamMetrics
	Logger   logger.Logger
	// OnReady runs on the worker goroutine after a packet is published.
	OnReady func()
}

// Stream turns a Source into a sequence of fixed-size packets. Each Drain
// schedules one read on the worker pool; the finished packet is parked in a
// single ready slot until Next hands it over. At most one read is in flight.
type Stream struct {
	name     string
	src      Source
	sched    *scheduler.Pool
	packets  *PacketPool
	priority float64
	ctx      *scheduler.PriorityContext
	metrics  *metrics.StreamMetrics
	log      logger.Logger
	onReady  func()

	// filling holds the packet handed to the in-flight read. The read and Stop
	// race to Take it; the loser does nothing.
	filling *lockfree.Cell[Packet]
	// ready holds a completed packet. Its tag is set once the stream stops, so
	// a read finishing after Stop fails to publish.
	ready *lockfree.Cell[Packet]

	inflight  atomic.Pointer[scheduler.WorkItem]
	loop      atomic.Bool
	nextIndex atomic.Uint64
	exhausted atomic.Bool
	stopped   atomic.Bool
	readErrs  atomic.Uint64
	loops     atomic.Uint64
	// sinceReset counts samples read since the source was opened or last
	// rewound. It spans packets, so an end of source landing on a packet
	// boundary still loops.
	sinceReset atomic.Int64
}

// NewStream creates a stream reading src on sched into packets from pool.
func NewStream(src Source, sched *scheduler.Pool, pool *PacketPool, opts Options) *Stream {
	name := opts.Name
	if name == "" {
		name = "stream"
	}
	priority := opts.Priority
	if priority == 0 {
		priority = 1
	}
	log := opts.Logger
	if log == nil {
		log = GetLogger()
	}
	s := &Stream{
		name:     name,
		src:      src,
		sched:    sched,
		packets:  pool,
		priority: priority,
		ctx:      opts.Context,
		metrics:  opts.Metrics,
		log:      log.With(logger.String("stream", name)),
		onReady:  opts.OnReady,
		filling:  pool.newCell(),
		ready:    pool.newCell(),
	}
	s.loop.Store(opts.Loop)
	return s
}

// Drain schedules a read of the next packet. It returns false without
// scheduling when a read is already in flight, a packet is waiting in the
// ready slot, the source is exhausted, the stream is stopped, or no packet
// could be allocated.
func (s *Stream) Drain() bool {
	if s.stopped.Load() || s.exhausted.Load() || s.inflight.Load() != nil || !s.ready.Empty() {
		return false
	}

	pkt, ok := s.packets.Get()
	if !ok {
		return false
	}

	w := scheduler.NewWorkItem(s.name+"/read", s.read,
		scheduler.WithPriority(s.priority),
		scheduler.WithContext(s.ctx))
	if !s.inflight.CompareAndSwap(nil, w) {
		pkt.Release()
		return false
	}

	// The cell takes its own reference.
	s.filling.Store(pkt)
	pkt.Release()

	if err := s.sched.Queue(w); err != nil {
		if h, ok := s.filling.Take(); ok {
			h.Release()
		}
		s.inflight.Store(nil)
		s.log.Debug("failed to queue stream read", logger.Error(err))
		return false
	}
	return true
}

// read fills one packet on a worker goroutine.
func (s *Stream) read(tok *scheduler.Token) {
	defer s.inflight.CompareAndSwap(tok.Item(), nil)

	h, ok := s.filling.Take()
	if !ok {
		return
	}
	defer h.Release()

	p := h.Value()
	n, last, looped, err := s.fill(tok, p.Samples)
	if err != nil {
		s.readErrs.Add(1)
		s.metrics.RecordReadError()
		s.log.Warn("source read failed, stream is under-fed until the next drain",
			logger.Int("samples_read", n),
			logger.Error(err))
		return
	}
	if tok.CancellationPoint() {
		return
	}

	p.Valid = n
	p.IsLast = last
	p.Looped = looped
	p.Index = s.nextIndex.Load()

	if !s.ready.TrySetFromTo(PacketRef{}, h, lockfree.TagExpectUnset) {
		return
	}
	s.nextIndex.Add(1)
	if last {
		s.exhausted.Store(true)
	}
	s.metrics.RecordPacketRead(n, len(p.Samples))
	if s.onReady != nil {
		s.onReady()
	}
}

// fill reads from the source until dst is full or the source ends. A looping
// stream rewinds a Resetter source at the end and keeps filling.
func (s *Stream) fill(tok *scheduler.Token, dst []float32) (filled int, last, looped bool, err error) {
	empty := 0
	for filled < len(dst) {
		if tok.CancellationPoint() {
			return filled, false, looped, nil
		}

		n, rerr := s.src.Read(dst[filled:])
		filled += n
		s.sinceReset.Add(int64(n))

		switch {
		case rerr == nil:
			if n == 0 {
				empty++
				if empty >= maxEmptyReads {
					return filled, false, looped, io.ErrNoProgress
				}
			} else {
				empty = 0
			}
			continue

		case errors.Is(rerr, io.EOF):
			if s.loop.Load() && s.sinceReset.Load() > 0 {
				if r, ok := s.src.(Resetter); ok {
					if err := r.Reset(); err != nil {
						return filled, false, looped, err
					}
					looped = true
					s.sinceReset.Store(0)
					s.loops.Add(1)
					s.metrics.RecordLoop()
					continue
				}
			}
			clear(dst[filled:])
			return filled, true, looped, nil

		default:
			return filled, false, looped, rerr
		}
	}
	return filled, false, looped, nil
}

// Next hands over the packet in the ready slot. The caller owns the returned
// reference.
func (s *Stream) Next() (PacketRef, bool) {
	if s.stopped.Load() {
		return PacketRef{}, false
	}
	return s.ready.Take()
}

// Stop cancels the in-flight read and discards any ready packet. No packet is
// delivered by a stopped stream.
func (s *Stream) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.ready.Mark()
	if h, ok := s.ready.Take(); ok {
		h.Release()
	}
	if h, ok := s.filling.Take(); ok {
		h.Release()
	}
	if w := s.inflight.Load(); w != nil {
		w.Cancel()
	}
}

// Wait blocks until no read is in flight.
func (s *Stream) Wait(ctx context.Context) error {
	for {
		w := s.inflight.Load()
		if w == nil {
			return nil
		}
		if err := w.Wait(ctx); err != nil {
			return err
		}
		// A cancelled item never clears inflight itself.
		s.inflight.CompareAndSwap(w, nil)
	}
}

// Pending reports whether a read is in flight or a packet is waiting.
func (s *Stream) Pending() bool {
	return s.inflight.Load() != nil || !s.ready.Empty()
}

// Busy reports whether a read is queued or executing. Unlike Pending it
// ignores the ready slot, so a stopped stream is idle once its last read has
// finished or been cancelled.
func (s *Stream) Busy() bool {
	w := s.inflight.Load()
	return w != nil && !w.Status().Finished()
}

// Exhausted reports whether the final packet has been produced.
func (s *Stream) Exhausted() bool { return s.exhausted.Load() }

// Stopped reports whether Stop has been called.
func (s *Stream) Stopped() bool { return s.stopped.Load() }

// SetLoop switches looping on or off for subsequent reads.
func (s *Stream) SetLoop(loop bool) { s.loop.Store(loop) }

// Loop reports whether the stream loops.
func (s *Stream) Loop() bool { return s.loop.Load() }

// Source returns the wrapped source.
func (s *Stream) Source() Source { return s.src }

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// PacketFrames returns the packet capacity in frames.
func (s *Stream) PacketFrames() int { return s.packets.Frames() }

// Stats is a snapshot of stream counters
type Stats struct {
	Packets    uint64
	Loops      uint64
	ReadErrors uint64
	Exhausted  bool
}

// Stats returns a snapshot of stream counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Packets:    s.nextIndex.Load(),
		Loops:      s.loops.Load(),
		ReadErrors: s.readErrs.Load(),
		Exhausted:  s.exhausted.Load(),
	}
}
