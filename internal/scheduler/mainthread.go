package scheduler

import (
	"time"

	"github.com/tphakala/audiostream/internal/lockfree"
)

// MainThreadQueue holds work items that must run on the owning goroutine,
// for example status callbacks that touch owner-only state. The owner drains
// it once per tick.
type MainThreadQueue struct {
	pool  *Pool
	items *lockfree.Deque[*WorkItem]
}

// Post appends an item. It is safe to call from any goroutine.
func (q *MainThreadQueue) Post(w *WorkItem) error {
	if w == nil || w.fn == nil {
		return ErrNilWork
	}
	if q.pool.closed.Load() {
		return ErrPoolClosed
	}
	if !w.status.CompareAndSwap(int32(ItemStatusCreated), int32(ItemStatusQueued)) {
		return ErrAlreadyQueued
	}
	w.queuedAt = q.pool.clock.Position()
	w.pool.Store(q.pool)
	q.items.PushBack(w)
	// Close may have drained the queue before the push landed.
	if q.pool.closed.Load() {
		q.cancelAll()
		return ErrPoolClosed
	}
	return nil
}

// PostFunc wraps fn in a work item and posts it.
func (q *MainThreadQueue) PostFunc(name string, fn func()) (*WorkItem, error) {
	w := NewWorkItem(name, func(*Token) { fn() })
	if err := q.Post(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Drain runs posted items in order until the queue is empty or budget has
// elapsed. At least one item runs if any is queued, and an item is never
// interrupted; a budget of zero or less drains until empty. It returns the
// number of items taken.
func (q *MainThreadQueue) Drain(budget time.Duration) int {
	start := time.Now()
	n := 0
	for {
		if n > 0 && budget > 0 && time.Since(start) >= budget {
			break
		}
		w, ok := q.items.TryPopFront()
		if !ok {
			break
		}
		q.pool.execute(w)
		n++
	}
	if n > 0 {
		q.pool.metrics.RecordMainThreadDrain(n)
	}
	return n
}

// Len returns the approximate number of posted items.
func (q *MainThreadQueue) Len() int {
	return q.items.Len()
}

func (q *MainThreadQueue) cancelAll() int {
	n := 0
	for {
		w, ok := q.items.TryPopFront()
		if !ok {
			return n
		}
		w.cancelled.Store(true)
		q.pool.finish(w, ItemStatusCancelled, 0)
		n++
	}
}
