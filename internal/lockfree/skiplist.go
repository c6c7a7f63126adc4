package lockfree

import (
	"cmp"
	"math/bits"
	"math/rand/v2"
	"sync/atomic"
)

// Order selects which end of the key space a SkipList drains first.
type Order uint8

const (
	// MinFirst drains ascending keys.
	MinFirst Order = iota
	// MaxFirst drains descending keys.
	MaxFirst
)

// DefaultMaxLevel bounds the tower height of skip-list nodes.
const DefaultMaxLevel = 24

// Entry is a node of a SkipList. It is returned by Insert so the caller can
// later remove that specific entry.
type Entry[K cmp.Ordered, V any] struct {
	key   K
	seq   uint64 // insertion sequence; later inserts order first among equal keys
	value V
	next  []MarkedPtr[Entry[K, V]]
}

// Key returns the entry's priority.
func (e *Entry[K, V]) Key() K { return e.key }

// Value returns the entry's payload.
func (e *Entry[K, V]) Value() V { return e.value }

// Removed reports whether the entry has been taken or removed.
func (e *Entry[K, V]) Removed() bool { return e.next[0].IsMarked() }

// SkipList is a lock-free priority queue. Nodes are linked bottom level first
// so the structure is a valid, possibly incomplete, skip list at every instant.
// Deletion marks the node's links top-down; the level-0 mark decides which
// goroutine owns the node, and any later search unlinks it physically.
type SkipList[K cmp.Ordered, V any] struct {
	head     *Entry[K, V]
	order    Order
	maxLevel int
	seq      atomic.Uint64
	size     atomic.Int64
}

// SkipListOption configures a SkipList.
type SkipListOption func(*skipListConfig)

type skipListConfig struct {
	maxLevel int
}

// WithMaxLevel overrides DefaultMaxLevel.
func WithMaxLevel(n int) SkipListOption {
	return func(c *skipListConfig) {
		if n >= 1 && n <= 64 {
			c.maxLevel = n
		}
	}
}

// NewSkipList creates an empty skip list with the given ordering.
func NewSkipList[K cmp.Ordered, V any](order Order, opts ...SkipListOption) *SkipList[K, V] {
	cfg := skipListConfig{maxLevel: DefaultMaxLevel}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &SkipList[K, V]{
		head:     &Entry[K, V]{next: make([]MarkedPtr[Entry[K, V]], cfg.maxLevel)},
		order:    order,
		maxLevel: cfg.maxLevel,
	}
	return s
}

// Order returns the drain order chosen at construction.
func (s *SkipList[K, V]) Order() Order {
	return s.order
}

// Len returns the approximate number of live entries.
func (s *SkipList[K, V]) Len() int {
	return int(max(s.size.Load(), 0))
}

// compareKeys orders keys in drain order.
func (s *SkipList[K, V]) compareKeys(a, b K) int {
	if s.order == MaxFirst {
		return cmp.Compare(b, a)
	}
	return cmp.Compare(a, b)
}

// before reports whether node e drains before the position (key, seq).
func (s *SkipList[K, V]) before(e *Entry[K, V], key K, seq uint64) bool {
	if c := s.compareKeys(e.key, key); c != 0 {
		return c < 0
	}
	return e.seq > seq
}

// passes reports whether key satisfies the take threshold.
func (s *SkipList[K, V]) passes(key, upTo K) bool {
	return s.compareKeys(key, upTo) <= 0
}

// randomLevel draws a tower height from a geometric distribution with p = 1/2.
func (s *SkipList[K, V]) randomLevel() int {
	return min(1+bits.TrailingZeros64(rand.Uint64()), s.maxLevel)
}

// find fills preds and succs with the neighbours of position (key, seq) on every
// level, unlinking marked nodes it walks past.
func (s *SkipList[K, V]) find(key K, seq uint64, preds, succs []*Entry[K, V]) {
retry:
	for {
		pred := s.head
		for l := s.maxLevel - 1; l >= 0; l-- {
			curr := pred.next[l].Pointer()
			for curr != nil {
				succ, marked := curr.next[l].Load()
				for marked {
					if !pred.next[l].CompareAndSwap(curr, false, succ, false) {
						continue retry
					}
					curr = succ
					if curr == nil {
						break
					}
					succ, marked = curr.next[l].Load()
				}
				if curr == nil || !s.before(curr, key, seq) {
					break
				}
				pred = curr
				curr = succ
			}
			preds[l] = pred
			succs[l] = curr
		}
		return
	}
}

// Insert adds value at priority and returns its entry. Among equal priorities
// the most recently inserted entry drains first.
func (s *SkipList[K, V]) Insert(priority K, value V) *Entry[K, V] {
	level := s.randomLevel()
	e := &Entry[K, V]{
		key:   priority,
		seq:   s.seq.Add(1),
		value: value,
		next:  make([]MarkedPtr[Entry[K, V]], level),
	}
	preds := make([]*Entry[K, V], s.maxLevel)
	succs := make([]*Entry[K, V], s.maxLevel)

	for spins := 0; ; spins++ {
		s.find(priority, e.seq, preds, succs)
		e.next[0].Store(succs[0], false)
		if preds[0].next[0].CompareAndSwap(succs[0], false, e, false) {
			break
		}
		backoff(spins)
	}
	s.size.Add(1)

	for l := 1; l < level; l++ {
		for spins := 0; ; spins++ {
			cur, marked := e.next[l].Load()
			if marked {
				// A remover already claimed the upper levels; stop building the tower.
				return e
			}
			if cur != succs[l] && !e.next[l].CompareAndSwap(cur, false, succs[l], false) {
				continue
			}
			if preds[l].next[l].CompareAndSwap(succs[l], false, e, false) {
				break
			}
			backoff(spins)
			s.find(priority, e.seq, preds, succs)
		}
	}

	// The entry may have been taken while its tower was still going up.
	if e.next[0].IsMarked() {
		s.find(priority, e.seq, preds, succs)
	}
	return e
}

// mark claims e for deletion: upper levels first, then level 0, whose mark
// decides the single winner.
func (s *SkipList[K, V]) mark(e *Entry[K, V]) bool {
	for l := len(e.next) - 1; l >= 1; l-- {
		e.next[l].Mark()
	}
	return e.next[0].Mark()
}

// unlink removes a marked entry physically.
func (s *SkipList[K, V]) unlink(e *Entry[K, V]) {
	preds := make([]*Entry[K, V], s.maxLevel)
	succs := make([]*Entry[K, V], s.maxLevel)
	s.find(e.key, e.seq, preds, succs)
}

// first returns the first live entry on level 0.
func (s *SkipList[K, V]) first() *Entry[K, V] {
	curr := s.head.next[0].Pointer()
	for curr != nil {
		succ, marked := curr.next[0].Load()
		if !marked {
			return curr
		}
		curr = succ
	}
	return nil
}

// TakeNext removes and returns the first live entry whose priority passes upTo:
// priority <= upTo for MinFirst, priority >= upTo for MaxFirst.
func (s *SkipList[K, V]) TakeNext(upTo K) (V, K, bool) {
	return s.take(true, upTo)
}

// Take removes and returns the first live entry regardless of priority.
func (s *SkipList[K, V]) Take() (V, K, bool) {
	var zero K
	return s.take(false, zero)
}

func (s *SkipList[K, V]) take(bounded bool, upTo K) (V, K, bool) {
	for spins := 0; ; spins++ {
		e := s.first()
		if e == nil || (bounded && !s.passes(e.key, upTo)) {
			var v V
			var k K
			return v, k, false
		}
		if s.mark(e) {
			s.size.Add(-1)
			s.unlink(e)
			return e.value, e.key, true
		}
		backoff(spins)
	}
}

// Remove deletes a specific entry. It returns false if the entry was already
// taken or removed.
func (s *SkipList[K, V]) Remove(e *Entry[K, V]) bool {
	if e == nil || !s.mark(e) {
		return false
	}
	s.size.Add(-1)
	s.unlink(e)
	return true
}

// Peek returns the priority of the first live entry.
func (s *SkipList[K, V]) Peek() (K, bool) {
	if e := s.first(); e != nil {
		return e.key, true
	}
	var zero K
	return zero, false
}
