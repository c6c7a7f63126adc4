package lockfree

import "sync/atomic"

// TagPolicy selects how a compare-and-swap treats the tag bit stored next to a reference.
type TagPolicy uint8

const (
	// TagPreserve keeps the current tag, whatever it is.
	TagPreserve TagPolicy = iota
	// TagSet sets the tag.
	TagSet
	// TagUnset clears the tag.
	TagUnset
	// TagExpectSet fails unless the tag is currently set, and keeps it set.
	TagExpectSet
	// TagExpectUnset fails unless the tag is currently clear, and keeps it clear.
	TagExpectUnset
)

// apply returns the tag to store and whether the current tag is acceptable.
func (p TagPolicy) apply(cur bool) (next, ok bool) {
	switch p {
	case TagSet:
		return true, true
	case TagUnset:
		return false, true
	case TagExpectSet:
		return true, cur
	case TagExpectUnset:
		return false, !cur
	default:
		return cur, true
	}
}

// String returns the policy name.
func (p TagPolicy) String() string {
	switch p {
	case TagPreserve:
		return "preserve"
	case TagSet:
		return "set"
	case TagUnset:
		return "unset"
	case TagExpectSet:
		return "expect-set"
	case TagExpectUnset:
		return "expect-unset"
	default:
		return "unknown"
	}
}

// Cell is an atomic slot holding one counted reference into a Pool plus a tag bit.
// The cell owns the reference it holds: storing into a cell takes a reference and
// replacing or clearing the contents releases the old one.
type Cell[T any] struct {
	pool *Pool[T]
	word atomic.Uint64 // (slot+1)<<1 | tag
}

// NewCell returns an empty cell for references into p.
func NewCell[T any](p *Pool[T]) *Cell[T] {
	return &Cell[T]{pool: p}
}

func encode(id uint32, tag bool) uint64 {
	w := uint64(id) << 1
	if tag {
		w |= 1
	}
	return w
}

func decode(w uint64) (id uint32, tag bool) {
	return uint32(w >> 1), w&1 != 0
}

// Tagged reports the current tag bit.
func (c *Cell[T]) Tagged() bool {
	return c.word.Load()&1 != 0
}

// Empty reports whether the cell currently holds no reference.
func (c *Cell[T]) Empty() bool {
	return c.word.Load()>>1 == 0
}

// SafeRead acquires a reference to the cell's current referent. The count is
// raised speculatively and the cell re-checked; if the cell moved on meanwhile
// the speculative reference is dropped and the read retried. The caller owns
// the returned handle and must Release it. An empty cell yields a nil handle.
func (c *Cell[T]) SafeRead() (Handle[T], bool) {
	for spins := 0; ; spins++ {
		w := c.word.Load()
		id, tag := decode(w)
		if id == 0 {
			return Handle[T]{}, tag
		}

		n := c.pool.node(id - 1)
		if n.rc.TryAddRef() {
			w2 := c.word.Load()
			if id2, tag2 := decode(w2); id2 == id {
				return Handle[T]{pool: c.pool, id: id}, tag2
			}
			Handle[T]{pool: c.pool, id: id}.Release()
		}
		backoff(spins)
	}
}

// TrySetFromTo replaces old with next in a single compare-and-swap, applying the
// tag policy. It fails if the cell no longer holds old or the policy rejects the
// current tag. On success the cell holds its own reference to next and its
// reference to old has been released; either handle may be nil.
func (c *Cell[T]) TrySetFromTo(old, next Handle[T], policy TagPolicy) bool {
	if next.Valid() {
		next.AddRef()
	}
	for spins := 0; ; spins++ {
		w := c.word.Load()
		id, tag := decode(w)
		if id != old.id {
			break
		}
		newTag, ok := policy.apply(tag)
		if !ok {
			break
		}
		if c.word.CompareAndSwap(w, encode(next.id, newTag)) {
			if old.Valid() {
				old.Release()
			}
			return true
		}
		// Only the tag changed under us; retry against the same referent.
		backoff(spins)
	}
	if next.Valid() {
		next.Release()
	}
	return false
}

// Store unconditionally replaces the contents, keeping the current tag.
func (c *Cell[T]) Store(next Handle[T]) {
	if next.Valid() {
		next.AddRef()
	}
	for {
		w := c.word.Load()
		_, tag := decode(w)
		if c.word.CompareAndSwap(w, encode(next.id, tag)) {
			if prev, _ := decode(w); prev != 0 {
				Handle[T]{pool: c.pool, id: prev}.Release()
			}
			return
		}
	}
}

// Take empties the cell and transfers its reference to the caller.
func (c *Cell[T]) Take() (Handle[T], bool) {
	for {
		w := c.word.Load()
		id, tag := decode(w)
		if id == 0 {
			return Handle[T]{}, false
		}
		if c.word.CompareAndSwap(w, encode(0, tag)) {
			return Handle[T]{pool: c.pool, id: id}, true
		}
	}
}

// Mark sets the tag without changing the referent and reports whether this call set it.
func (c *Cell[T]) Mark() bool {
	for {
		w := c.word.Load()
		if w&1 != 0 {
			return false
		}
		if c.word.CompareAndSwap(w, w|1) {
			return true
		}
	}
}

// Unmark clears the tag and reports whether this call cleared it.
func (c *Cell[T]) Unmark() bool {
	for {
		w := c.word.Load()
		if w&1 == 0 {
			return false
		}
		if c.word.CompareAndSwap(w, w&^1) {
			return true
		}
	}
}
