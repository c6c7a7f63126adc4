package lockfree

import (
	"sync/atomic"

	"github.com/tphakala/audiostream/internal/errors"
)

const (
	chunkShift = 8
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1
	maxChunks  = 4096

	// MaxPoolSlots is the largest number of slots a single pool can create.
	MaxPoolSlots = chunkSize * maxChunks
)

type poolNode[T any] struct {
	rc       RefCount
	freeNext atomic.Uint32 // slot+1 of the next free node while on the free list
	value    T
}

type chunk[T any] [chunkSize]poolNode[T]

// PoolStats is a point-in-time snapshot of pool counters.
type PoolStats struct {
	Allocated uint32 // slots created in the slab
	InUse     int64  // slots currently handed out
	Reused    uint64 // allocations served from the free list
	Fresh     uint64 // allocations served by creating a slot
}

// PoolOption configures a Pool.
type PoolOption[T any] func(*Pool[T])

// WithReset installs a hook that prepares a value for reuse when its last
// reference is released. A pool with a reset hook does not zero reused values,
// so the hook can keep buffers whose capacity is worth retaining.
func WithReset[T any](fn func(*T)) PoolOption[T] {
	return func(p *Pool[T]) {
		p.reset = fn
	}
}

// WithLimit caps the number of slots the pool may create. Allocation fails once
// every slot is in use.
func WithLimit[T any](n int) PoolOption[T] {
	return func(p *Pool[T]) {
		if n > 0 && n < MaxPoolSlots {
			p.limit = uint32(n)
		}
	}
}

// Pool is a lock-free free list of reference-counted values backed by a chunked
// slab. Slots are identified by index and are recycled, never returned to the
// Go allocator while the pool is reachable.
type Pool[T any] struct {
	head   atomic.Uint64 // version<<32 | slot+1
	fresh  atomic.Uint32 // next never-used slot
	limit  uint32
	reset  func(*T)
	chunks [maxChunks]atomic.Pointer[chunk[T]]

	inUse  atomic.Int64
	reused atomic.Uint64
	made   atomic.Uint64
}

// NewPool creates an empty pool.
func NewPool[T any](opts ...PoolOption[T]) *Pool[T] {
	p := &Pool[T]{limit: MaxPoolSlots}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Alloc returns a handle holding the only reference to a zeroed (or reset) value.
// It returns false when the pool has reached its slot limit.
func (p *Pool[T]) Alloc() (Handle[T], bool) {
	if slot, ok := p.popFree(); ok {
		n := p.node(slot)
		if p.reset == nil {
			var zero T
			n.value = zero
		}
		n.rc.Reseed()
		p.inUse.Add(1)
		p.reused.Add(1)
		return Handle[T]{pool: p, id: slot + 1}, true
	}

	slot, ok := p.newSlot()
	if !ok {
		return Handle[T]{}, false
	}
	p.node(slot).rc.Init()
	p.inUse.Add(1)
	p.made.Add(1)
	return Handle[T]{pool: p, id: slot + 1}, true
}

// Free pushes a slot whose reference count has been claimed back onto the free list.
func (p *Pool[T]) Free(slot uint32) {
	n := p.node(slot)
	if !n.rc.Claimed() {
		panic(errors.Invariant(ComponentLockFree, "Free of live slot %d", slot))
	}
	for spins := 0; ; spins++ {
		h := p.head.Load()
		n.freeNext.Store(uint32(h))
		if p.head.CompareAndSwap(h, nextVersion(h, slot+1)) {
			p.inUse.Add(-1)
			return
		}
		backoff(spins)
	}
}

// Get resolves a slot index to its value.
func (p *Pool[T]) Get(slot uint32) *T {
	return &p.node(slot).value
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Allocated: min(p.fresh.Load(), p.limit),
		InUse:     p.inUse.Load(),
		Reused:    p.reused.Load(),
		Fresh:     p.made.Load(),
	}
}

func nextVersion(h uint64, id uint32) uint64 {
	return (h>>32+1)<<32 | uint64(id)
}

// popFree takes the free-list head. The version half of the head word changes on
// every successful CAS, so a head that was popped and pushed back in between
// cannot be mistaken for the one read.
func (p *Pool[T]) popFree() (uint32, bool) {
	for spins := 0; ; spins++ {
		h := p.head.Load()
		id := uint32(h)
		if id == 0 {
			return 0, false
		}
		next := p.node(id - 1).freeNext.Load()
		if p.head.CompareAndSwap(h, nextVersion(h, next)) {
			return id - 1, true
		}
		backoff(spins)
	}
}

// newSlot reserves a never-used slot, publishing its chunk if needed.
func (p *Pool[T]) newSlot() (uint32, bool) {
	for {
		slot := p.fresh.Load()
		if slot >= p.limit {
			return 0, false
		}
		if p.fresh.CompareAndSwap(slot, slot+1) {
			ci := slot >> chunkShift
			if p.chunks[ci].Load() == nil {
				// Losers of the publication race drop their chunk.
				p.chunks[ci].CompareAndSwap(nil, new(chunk[T]))
			}
			return slot, true
		}
	}
}

func (p *Pool[T]) node(slot uint32) *poolNode[T] {
	c := p.chunks[slot>>chunkShift].Load()
	if c == nil {
		panic(errors.Invariant(ComponentLockFree, "slot %d references an unpublished chunk", slot))
	}
	return &c[slot&chunkMask]
}

// destroy runs the reset hook and recycles the slot. Only the claim winner calls it.
func (p *Pool[T]) destroy(slot uint32) {
	if p.reset != nil {
		p.reset(&p.node(slot).value)
	}
	p.Free(slot)
}

// Handle is a counted reference to a pooled value. The zero Handle is nil.
// Handles are values; copying one does not take a reference.
type Handle[T any] struct {
	pool *Pool[T]
	id   uint32 // slot+1, zero for nil
}

// Valid reports whether the handle refers to a value.
func (h Handle[T]) Valid() bool {
	return h.id != 0
}

// Slot returns the pool slot index of the referent.
func (h Handle[T]) Slot() uint32 {
	return h.id - 1
}

// Value returns the referent. The pointer is only meaningful while a reference is held.
func (h Handle[T]) Value() *T {
	return &h.pool.node(h.id - 1).value
}

// AddRef takes another reference and returns the same handle for chaining.
func (h Handle[T]) AddRef() Handle[T] {
	h.pool.node(h.id - 1).rc.AddRef()
	return h
}

// Release drops the reference. The last release recycles the slot.
func (h Handle[T]) Release() {
	if !h.Valid() {
		panic(errors.Invariant(ComponentLockFree, "Release of nil handle"))
	}
	if h.pool.node(h.id - 1).rc.Release() {
		h.pool.destroy(h.id - 1)
	}
}

// RefCount returns the referent's current reference count.
func (h Handle[T]) RefCount() int {
	return h.pool.node(h.id - 1).rc.Count()
}
