// Package timedqueue feeds discrete packets into a consumer sink in lockstep
// with a playback clock. The queue keeps one interval record per packet it has
// forwarded and evicts records once the clock has played past them, which
// bounds look-ahead to a fixed number of packets.
package timedqueue

import (
	"sync/atomic"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// ComponentQueue is the error component name used by this package.
const ComponentQueue = "timedqueue"

// Sink receives packets as soon as they are accepted.
type Sink[P any] interface {
	Write(pkt P) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[P any] func(P) error

// Write implements Sink.
func (f SinkFunc[P]) Write(pkt P) error { return f(pkt) }

// Options configures a Queue
type Options struct {
	Capacity      int   // maximum number of un-expired packets
	DropLate      bool  // discard packets whose end tick is already behind the clock
	TotalDuration int64 // known stream length in ticks; 0 when unknown
	Metrics       *metrics.StreamMetrics
}

// Stats is a snapshot of queue counters
type Stats struct {
	Queued    int
	Submitted uint64
	Dropped   uint64
	Evicted   uint64
}

type record struct {
	start, end int64
}

// Queue is a bounded queue of packet interval records.
//
// SubmitPacket, NeedPacket and Reset must be called from a single driving
// goroutine, usually the sound update loop. The query methods read atomics and
// may be called from anywhere.
type Queue[P any] struct {
	clock    Clock
	sink     Sink[P]
	dropLate bool
	metrics  *metrics.StreamMetrics

	ring  []record
	head  int
	count atomic.Int64

	next      atomic.Int64 // start tick of the next contiguous packet
	lastEnd   atomic.Int64 // end tick of the newest queued record
	queuedDur atomic.Int64 // sum of queued record lengths
	total     atomic.Int64 // configured total duration, 0 if unknown
	lastTick  atomic.Int64 // end of the packet flagged last, -1 if not seen

	submitted atomic.Uint64
	dropped   atomic.Uint64
	evicted   atomic.Uint64
}

// New creates a queue forwarding to sink and timed by clock.
func New[P any](clock Clock, sink Sink[P], opts Options) (*Queue[P], error) {
	if clock == nil || sink == nil {
		return nil, errors.Newf("timed queue needs a clock and a sink").
			Component(ComponentQueue).
			Category(errors.CategoryValidation).
			Build()
	}
	if opts.Capacity <= 0 {
		return nil, errors.Newf("timed queue capacity must be positive, got %d", opts.Capacity).
			Component(ComponentQueue).
			Category(errors.CategoryValidation).
			Context("capacity", opts.Capacity).
			Build()
	}
	q := &Queue[P]{
		clock:    clock,
		sink:     sink,
		dropLate: opts.DropLate,
		metrics:  opts.Metrics,
		ring:     make([]record, opts.Capacity),
	}
	q.total.Store(opts.TotalDuration)
	q.lastTick.Store(-1)
	return q, nil
}

// SubmitPacket forwards pkt to the sink and records the interval it covers.
// The interval starts where the previous packet ended, or at explicitPos when
// it is non-nil. In drop-late mode a packet that ends at or before the current
// clock is discarded without reaching the sink. It returns false when the
// packet was dropped, the queue was full, or the sink refused it.
func (q *Queue[P]) SubmitPacket(pkt P, durationTicks int64, isLast bool, explicitPos *int64) bool {
	if durationTicks <= 0 {
		panic(errors.Invariant(ComponentQueue, "packet duration must be positive, got %d", durationTicks))
	}

	start := q.next.Load()
	if explicitPos != nil {
		start = *explicitPos
	}
	end := start + durationTicks

	// A late packet still consumes its interval so later packets stay
	// aligned. A packet refused for lack of room leaves the position alone so
	// the caller can retry it.
	if q.dropLate && q.clock.Position() >= end {
		q.advance(end, isLast)
		q.drop()
		return false
	}
	if int(q.count.Load()) >= len(q.ring) {
		q.drop()
		return false
	}
	if err := q.sink.Write(pkt); err != nil {
		q.drop()
		return false
	}
	q.advance(end, isLast)

	n := int(q.count.Load())
	q.ring[(q.head+n)%len(q.ring)] = record{start: start, end: end}
	q.queuedDur.Add(durationTicks)
	q.lastEnd.Store(end)
	q.count.Add(1)

	q.submitted.Add(1)
	q.metrics.RecordSubmit(metrics.ResultQueued)
	return true
}

func (q *Queue[P]) advance(end int64, isLast bool) {
	q.next.Store(end)
	if isLast {
		q.lastTick.Store(end)
	}
}

func (q *Queue[P]) drop() {
	q.dropped.Add(1)
	q.metrics.RecordSubmit(metrics.ResultDropped)
}

// NeedPacket evicts records the clock has played past and reports whether the
// queue has room for another packet.
func (q *Queue[P]) NeedPacket() bool {
	q.evict(q.clock.Position())
	return int(q.count.Load()) < len(q.ring)
}

func (q *Queue[P]) evict(now int64) {
	n := 0
	for q.count.Load() > 0 {
		r := q.ring[q.head]
		if r.end > now {
			break
		}
		q.ring[q.head] = record{}
		q.head = (q.head + 1) % len(q.ring)
		q.queuedDur.Add(-(r.end - r.start))
		q.count.Add(-1)
		n++
	}
	if n > 0 {
		q.evicted.Add(uint64(n))
		q.metrics.RecordEvicted(n)
	}
}

// IsAtEnd reports whether the clock has passed the known end of the stream.
// The end is the configured total duration, or else the end of the packet
// submitted as last. In drop-late mode every tick up to the end must also
// have been submitted, whether or not it was dropped.
func (q *Queue[P]) IsAtEnd() bool {
	bound := q.EndTick()
	if bound < 0 {
		return false
	}
	if q.clock.Position() < bound {
		return false
	}
	if q.dropLate && q.next.Load() < bound {
		return false
	}
	return true
}

// EndTick returns the known end of the stream, or -1 while it is unknown.
func (q *Queue[P]) EndTick() int64 {
	if total := q.total.Load(); total > 0 {
		return total
	}
	return q.lastTick.Load()
}

// SetTotalDuration records the stream length once it becomes known.
func (q *Queue[P]) SetTotalDuration(ticks int64) {
	q.total.Store(ticks)
}

// QueuedDuration returns the summed length of all queued records, including
// the part of the front record already played.
func (q *Queue[P]) QueuedDuration() int64 {
	return q.queuedDur.Load()
}

// PlayableDuration returns the ticks of queued data ahead of the clock.
func (q *Queue[P]) PlayableDuration() int64 {
	if q.count.Load() == 0 {
		return 0
	}
	return max(0, q.lastEnd.Load()-q.clock.Position())
}

// NextPosition returns the start tick the next contiguous packet will get.
func (q *Queue[P]) NextPosition() int64 {
	return q.next.Load()
}

// Len returns the number of queued records.
func (q *Queue[P]) Len() int {
	return int(q.count.Load())
}

// Capacity returns the maximum number of queued records.
func (q *Queue[P]) Capacity() int {
	return len(q.ring)
}

// Reset drops every record and continues contiguous numbering from pos. The
// end of a packet flagged last is forgotten; a configured total is kept.
func (q *Queue[P]) Reset(pos int64) {
	clear(q.ring)
	q.head = 0
	q.count.Store(0)
	q.queuedDur.Store(0)
	q.lastEnd.Store(pos)
	q.next.Store(pos)
	q.lastTick.Store(-1)
}

// Stats returns a snapshot of queue counters.
func (q *Queue[P]) Stats() Stats {
	return Stats{
		Queued:    q.Len(),
		Submitted: q.submitted.Load(),
		Dropped:   q.dropped.Load(),
		Evicted:   q.evicted.Load(),
	}
}
