package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiostream/internal/lockfree"
)

// WorkFunc is the body of a work item. It receives a token it can poll for
// cooperative cancellation.
type WorkFunc func(tok *Token)

// Token is handed to a running work item.
type Token struct {
	item *WorkItem
}

// CancellationPoint reports whether the item has been cancelled. Items poll it
// between steps and return early when it is true; effects applied before the
// last check are left in place.
func (t *Token) CancellationPoint() bool {
	return t.item.cancelled.Load()
}

// Item returns the work item the token belongs to.
func (t *Token) Item() *WorkItem {
	return t.item
}

// ItemOption configures a WorkItem.
type ItemOption func(*WorkItem)

// WithPriority sets the base priority. Higher priorities run first.
func WithPriority(p float64) ItemOption {
	return func(w *WorkItem) {
		w.priority = p
	}
}

// WithContext places the item under a priority context.
func WithContext(ctx *PriorityContext) ItemOption {
	return func(w *WorkItem) {
		if ctx != nil {
			w.ctx = ctx
		}
	}
}

// WithAging raises the item's base priority by perSecond for every second it
// waits in the queue.
func WithAging(perSecond float64) ItemOption {
	return func(w *WorkItem) {
		w.aging = perSecond
	}
}

// WorkItem is a unit of work executed at most once by the pool or by the
// owning goroutine through the main-thread queue.
type WorkItem struct {
	name     string
	fn       WorkFunc
	ctx      *PriorityContext
	priority float64
	aging    float64

	pool      atomic.Pointer[Pool]
	tracked   atomic.Pointer[lockfree.Tracked[*WorkItem]]
	queuedAt  int64 // pool clock tick when queued
	status    atomic.Int32
	cancelled atomic.Bool
	done      chan struct{}
}

// NewWorkItem creates an unqueued work item.
func NewWorkItem(name string, fn WorkFunc, opts ...ItemOption) *WorkItem {
	w := &WorkItem{
		name:     name,
		fn:       fn,
		priority: 1,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the item name.
func (w *WorkItem) Name() string { return w.name }

// Status returns the current lifecycle state.
func (w *WorkItem) Status() ItemStatus {
	return ItemStatus(w.status.Load())
}

// Context returns the item's priority context, or nil if it has none.
func (w *WorkItem) Context() *PriorityContext { return w.ctx }

// EffectivePriority returns the item's priority at tick now: base priority plus
// aging, scaled by the context bias.
func (w *WorkItem) EffectivePriority(now int64) float64 {
	p := w.priority
	if w.aging != 0 && now > w.queuedAt {
		p += w.aging * time.Duration(now-w.queuedAt).Seconds()
	}
	if w.ctx != nil {
		p *= w.ctx.Bias()
	}
	return p
}

// Cancel flags the item. A queued item is withdrawn and never runs; a running
// item observes the flag at its next cancellation point.
func (w *WorkItem) Cancel() {
	if !w.cancelled.CompareAndSwap(false, true) {
		return
	}
	p, tr := w.pool.Load(), w.tracked.Load()
	if p != nil && tr != nil && p.queue.Remove(tr) {
		p.pending.Add(-1)
		p.finish(w, ItemStatusCancelled, 0)
	}
}

// IsCancelled reports whether Cancel has been called.
func (w *WorkItem) IsCancelled() bool {
	return w.cancelled.Load()
}

// Done returns a channel closed once the item has finished, whatever the outcome.
func (w *WorkItem) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the item finishes or ctx is done.
func (w *WorkItem) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
