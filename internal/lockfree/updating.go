package lockfree

import "sync/atomic"

// Clock supplies the current tick.
type Clock interface {
	Position() int64
}

// PriorityFunc computes an item's priority at tick now.
type PriorityFunc func(now int64) float64

// Tracked is an item held by an UpdatingQueue.
type Tracked[T any] struct {
	value    T
	priority PriorityFunc
	interval int64
	entry    atomic.Pointer[Entry[float64, *Tracked[T]]]
	claimed  atomic.Bool
}

// Value returns the tracked payload.
func (t *Tracked[T]) Value() T { return t.value }

// Priority returns the priority the item is currently queued at.
func (t *Tracked[T]) Priority() float64 {
	if e := t.entry.Load(); e != nil {
		return e.Key()
	}
	return 0
}

// Claimed reports whether the item has been taken or removed.
func (t *Tracked[T]) Claimed() bool { return t.claimed.Load() }

// UpdatingQueue is a priority queue whose item priorities are re-evaluated on a
// per-item interval. Every item is also registered on a time-ordered queue keyed
// by its next re-check tick; UpdatePriorities drains that queue and re-inserts
// items whose priority changed. This lets long-queued items age past a stream of
// newer arrivals.
type UpdatingQueue[T any] struct {
	items    *SkipList[float64, *Tracked[T]]
	rechecks *SkipList[int64, *Tracked[T]]
	clock    Clock
	moved    atomic.Uint64
}

// NewUpdatingQueue creates a queue draining in the given order, reading re-check
// ticks from clock.
func NewUpdatingQueue[T any](order Order, clock Clock) *UpdatingQueue[T] {
	return &UpdatingQueue[T]{
		items:    NewSkipList[float64, *Tracked[T]](order),
		rechecks: NewSkipList[int64, *Tracked[T]](MinFirst),
		clock:    clock,
	}
}

// Insert queues value at priority(now). A positive interval schedules the first
// re-check at now + interval.
func (q *UpdatingQueue[T]) Insert(value T, priority PriorityFunc, interval int64) *Tracked[T] {
	now := q.clock.Position()
	t := &Tracked[T]{value: value, priority: priority, interval: interval}
	t.entry.Store(q.items.Insert(priority(now), t))
	if interval > 0 {
		q.rechecks.Insert(now+interval, t)
	}
	return t
}

// TakeNext removes the first item whose priority passes upTo.
func (q *UpdatingQueue[T]) TakeNext(upTo float64) (T, float64, bool) {
	return q.take(func() (*Tracked[T], float64, bool) { return q.items.TakeNext(upTo) })
}

// Take removes the first item regardless of priority.
func (q *UpdatingQueue[T]) Take() (T, float64, bool) {
	return q.take(q.items.Take)
}

func (q *UpdatingQueue[T]) take(next func() (*Tracked[T], float64, bool)) (T, float64, bool) {
	for {
		t, p, ok := next()
		if !ok {
			var zero T
			return zero, 0, false
		}
		// An entry of a removed item can outlive the removal by one re-insert.
		if t.claimed.CompareAndSwap(false, true) {
			return t.value, p, true
		}
	}
}

// Remove withdraws an item that has not been taken yet.
func (q *UpdatingQueue[T]) Remove(t *Tracked[T]) bool {
	if !t.claimed.CompareAndSwap(false, true) {
		return false
	}
	q.items.Remove(t.entry.Load())
	return true
}

// UpdatePriorities processes every re-check due at or before now. Items whose
// recomputed priority differs are moved to the new priority; live items are
// registered for their next re-check. It returns the number of items moved.
func (q *UpdatingQueue[T]) UpdatePriorities(now int64) int {
	moved := 0
	for {
		t, _, ok := q.rechecks.TakeNext(now)
		if !ok {
			break
		}
		if t.claimed.Load() {
			continue
		}

		old := t.entry.Load()
		if p := t.priority(now); p != old.Key() {
			// Losing the removal means a taker got there first.
			if !q.items.Remove(old) {
				continue
			}
			t.entry.Store(q.items.Insert(p, t))
			moved++
		}
		q.rechecks.Insert(now+t.interval, t)
	}
	q.moved.Add(uint64(moved))
	return moved
}

// Len returns the approximate number of queued items.
func (q *UpdatingQueue[T]) Len() int {
	return q.items.Len()
}

// PendingRechecks returns the approximate number of scheduled re-checks.
func (q *UpdatingQueue[T]) PendingRechecks() int {
	return q.rechecks.Len()
}

// Moved returns how many items have been moved to a new priority so far.
func (q *UpdatingQueue[T]) Moved() uint64 {
	return q.moved.Load()
}

// Peek returns the priority of the first queued item.
func (q *UpdatingQueue[T]) Peek() (float64, bool) {
	return q.items.Peek()
}
