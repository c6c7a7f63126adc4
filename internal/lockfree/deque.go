package lockfree

import "sync/atomic"

type anchorStatus uint8

const (
	anchorStable anchorStatus = iota
	anchorPushLeft
	anchorPushRight
)

type dequeNode[T any] struct {
	value T
	left  MarkedPtr[dequeNode[T]]
	right MarkedPtr[dequeNode[T]]
}

// anchor is an immutable snapshot of both ends. Replacing it by CAS is the
// linearization point of every push and pop, which also decides who wins the
// last element when both ends race for it.
type anchor[T any] struct {
	left, right *dequeNode[T]
	status      anchorStatus
}

// Deque is an unbounded multi-producer, multi-consumer double-ended queue.
// Every pushed value is returned by exactly one pop. Values keep FIFO order
// within one end; no order is defined between values pushed at opposite ends.
type Deque[T any] struct {
	anchor atomic.Pointer[anchor[T]]
	size   atomic.Int64
}

// NewDeque returns an empty deque.
func NewDeque[T any]() *Deque[T] {
	d := &Deque[T]{}
	d.anchor.Store(&anchor[T]{})
	return d
}

// Len returns the approximate number of queued values.
func (d *Deque[T]) Len() int {
	return int(max(d.size.Load(), 0))
}

// PushBack appends v at the back.
func (d *Deque[T]) PushBack(v T) {
	n := &dequeNode[T]{value: v}
	d.size.Add(1)
	for spins := 0; ; spins++ {
		a := d.anchor.Load()
		switch {
		case a.right == nil:
			if d.anchor.CompareAndSwap(a, &anchor[T]{left: n, right: n}) {
				return
			}
		case a.status == anchorStable:
			n.left.Store(a.right, false)
			na := &anchor[T]{left: a.left, right: n, status: anchorPushRight}
			if d.anchor.CompareAndSwap(a, na) {
				d.stabilizeRight(na)
				return
			}
		default:
			d.stabilize(a)
		}
		backoff(spins)
	}
}

// PushFront prepends v at the front.
func (d *Deque[T]) PushFront(v T) {
	n := &dequeNode[T]{value: v}
	d.size.Add(1)
	for spins := 0; ; spins++ {
		a := d.anchor.Load()
		switch {
		case a.left == nil:
			if d.anchor.CompareAndSwap(a, &anchor[T]{left: n, right: n}) {
				return
			}
		case a.status == anchorStable:
			n.right.Store(a.left, false)
			na := &anchor[T]{left: n, right: a.right, status: anchorPushLeft}
			if d.anchor.CompareAndSwap(a, na) {
				d.stabilizeLeft(na)
				return
			}
		default:
			d.stabilize(a)
		}
		backoff(spins)
	}
}

// TryPopBack removes the back value. It returns false without blocking when the
// deque is empty at the moment of the attempt.
func (d *Deque[T]) TryPopBack() (T, bool) {
	for spins := 0; ; spins++ {
		a := d.anchor.Load()
		switch {
		case a.right == nil:
			var zero T
			return zero, false
		case a.right == a.left:
			if d.anchor.CompareAndSwap(a, &anchor[T]{}) {
				return d.take(a.right), true
			}
		case a.status == anchorStable:
			prev := a.right.left.Pointer()
			if d.anchor.CompareAndSwap(a, &anchor[T]{left: a.left, right: prev}) {
				// Mark the link pointing away so a stale stabilizer cannot relink it.
				a.right.left.Mark()
				return d.take(a.right), true
			}
		default:
			d.stabilize(a)
		}
		backoff(spins)
	}
}

// TryPopFront removes the front value. It returns false without blocking when
// the deque is empty at the moment of the attempt.
func (d *Deque[T]) TryPopFront() (T, bool) {
	for spins := 0; ; spins++ {
		a := d.anchor.Load()
		switch {
		case a.left == nil:
			var zero T
			return zero, false
		case a.right == a.left:
			if d.anchor.CompareAndSwap(a, &anchor[T]{}) {
				return d.take(a.left), true
			}
		case a.status == anchorStable:
			next := a.left.right.Pointer()
			if d.anchor.CompareAndSwap(a, &anchor[T]{left: next, right: a.right}) {
				a.left.right.Mark()
				return d.take(a.left), true
			}
		default:
			d.stabilize(a)
		}
		backoff(spins)
	}
}

// take hands the popped value to the single winner and drops the node's hold on it.
func (d *Deque[T]) take(n *dequeNode[T]) T {
	v := n.value
	var zero T
	n.value = zero
	d.size.Add(-1)
	return v
}

func (d *Deque[T]) stabilize(a *anchor[T]) {
	if a.status == anchorPushRight {
		d.stabilizeRight(a)
	} else {
		d.stabilizeLeft(a)
	}
}

// stabilizeRight completes a back push by pointing the old back node at the new one.
func (d *Deque[T]) stabilizeRight(a *anchor[T]) {
	prev := a.right.left.Pointer()
	if d.anchor.Load() != a {
		return
	}
	prevNext := prev.right.Pointer()
	if prevNext != a.right {
		if d.anchor.Load() != a {
			return
		}
		if !prev.right.TrySetFromTo(prevNext, a.right, TagExpectUnset) {
			return
		}
	}
	d.anchor.CompareAndSwap(a, &anchor[T]{left: a.left, right: a.right})
}

// stabilizeLeft completes a front push by pointing the old front node at the new one.
func (d *Deque[T]) stabilizeLeft(a *anchor[T]) {
	next := a.left.right.Pointer()
	if d.anchor.Load() != a {
		return
	}
	nextPrev := next.left.Pointer()
	if nextPrev != a.left {
		if d.anchor.Load() != a {
			return
		}
		if !next.left.TrySetFromTo(nextPrev, a.left, TagExpectUnset) {
			return
		}
	}
	d.anchor.CompareAndSwap(a, &anchor[T]{left: a.left, right: a.right})
}
