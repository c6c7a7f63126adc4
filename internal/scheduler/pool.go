package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tphakala/audiostream/internal/cpuspec"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/lockfree"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

const (
	// wakeCapacity is the size of the wake-up semaphore. The pool holds all of
	// it at start and releases one unit per queued item, turning the weighted
	// semaphore into a counting one.
	wakeCapacity = int64(1) << 62

	flushPoll = 200 * time.Microsecond
)

// Options configures a Pool
type Options struct {
	Workers        int           // worker goroutines; 0 sizes the pool from the detected CPU
	AgingInterval  time.Duration // how often each queued item's priority is re-checked; 0 disables
	UpdateInterval time.Duration // period of the priority update pass; 0 disables the ticker
	Logger         logger.Logger
	Metrics        *metrics.SchedulerMetrics
}

// monoClock reports nanoseconds since the pool started.
type monoClock struct {
	start time.Time
}

func (c monoClock) Position() int64 {
	return int64(time.Since(c.start))
}

// Pool runs work items on a fixed set of worker goroutines, highest effective
// priority first. Idle workers block on a semaphore; the queue itself is
// lock-free.
type Pool struct {
	queue   *lockfree.UpdatingQueue[*WorkItem]
	main    *MainThreadQueue
	root    *PriorityContext
	clock   monoClock
	wake    *semaphore.Weighted
	workers int
	aging   int64

	log     logger.Logger
	metrics *metrics.SchedulerMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	pending   atomic.Int64
	running   atomic.Int64
	completed atomic.Uint64
	cancelled atomic.Uint64
	panicked  atomic.Uint64
}

// New starts a pool. The caller owns it and must call Close.
func New(opts Options) (*Pool, error) {
	if opts.Workers < 0 {
		return nil, errors.Newf("worker count cannot be negative: %d", opts.Workers).
			Component(ComponentScheduler).
			Category(errors.CategoryValidation).
			Build()
	}
	workers := opts.Workers
	if workers == 0 {
		workers = cpuspec.GetCPUSpec().WorkerCount(1)
	}

	log := opts.Logger
	if log == nil {
		log = GetLogger()
	}

	clock := monoClock{start: time.Now()}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   lockfree.NewUpdatingQueue[*WorkItem](lockfree.MaxFirst, clock),
		root:    NewContext("root", 1),
		clock:   clock,
		wake:    semaphore.NewWeighted(wakeCapacity),
		workers: workers,
		aging:   int64(opts.AgingInterval),
		log:     log,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.main = &MainThreadQueue{pool: p, items: lockfree.NewDeque[*WorkItem]()}

	if !p.wake.TryAcquire(wakeCapacity) {
		cancel()
		return nil, errors.Newf("failed to prime wake-up semaphore").
			Component(ComponentScheduler).
			Category(errors.CategoryScheduler).
			Build()
	}

	for i := range workers {
		p.wg.Go(func() { p.worker(i) })
	}
	if opts.UpdateInterval > 0 && opts.AgingInterval > 0 {
		p.wg.Go(func() { p.updateLoop(opts.UpdateInterval) })
	}

	p.metrics.SetWorkers(workers)
	p.log.Info("worker pool started",
		logger.Int("workers", workers),
		logger.Duration("aging_interval", opts.AgingInterval),
		logger.Duration("update_interval", opts.UpdateInterval))
	return p, nil
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Root returns the pool's root priority context.
func (p *Pool) Root() *PriorityContext { return p.root }

// NewContext creates a priority context under the root context.
func (p *Pool) NewContext(name string, bias float64) *PriorityContext {
	return p.root.Child(name, bias)
}

// MainThread returns the queue drained by the owning goroutine.
func (p *Pool) MainThread() *MainThreadQueue { return p.main }

// Now returns the pool clock in nanoseconds since start.
func (p *Pool) Now() int64 { return p.clock.Position() }

// Go creates and queues a work item in one step.
func (p *Pool) Go(name string, fn WorkFunc, opts ...ItemOption) (*WorkItem, error) {
	w := NewWorkItem(name, fn, opts...)
	if err := p.Queue(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Queue inserts the item and wakes one idle worker. An item can be queued once.
func (p *Pool) Queue(w *WorkItem) error {
	if w == nil || w.fn == nil {
		return ErrNilWork
	}
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if !w.status.CompareAndSwap(int32(ItemStatusCreated), int32(ItemStatusQueued)) {
		return ErrAlreadyQueued
	}
	if w.ctx == nil {
		w.ctx = p.root
	}
	w.queuedAt = p.clock.Position()
	w.pool.Store(p)

	p.pending.Add(1)
	tr := p.queue.Insert(w, w.EffectivePriority, p.aging)
	w.tracked.Store(tr)

	// Cancel may have run before the tracked entry was visible to it.
	if w.cancelled.Load() && p.queue.Remove(tr) {
		p.pending.Add(-1)
		p.finish(w, ItemStatusCancelled, 0)
		return nil
	}
	// Close may have drained the queue before the insert landed.
	if p.closed.Load() && p.queue.Remove(tr) {
		p.pending.Add(-1)
		w.cancelled.Store(true)
		p.finish(w, ItemStatusCancelled, 0)
		return ErrPoolClosed
	}

	p.metrics.RecordQueued(w.ctx.Name())
	p.metrics.SetQueueDepth(int(p.pending.Load()))
	p.wake.Release(1)
	return nil
}

func (p *Pool) worker(id int) {
	p.log.Trace("worker started", logger.Int("worker", id))
	for {
		if err := p.wake.Acquire(p.ctx, 1); err != nil {
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		p.runNext()
	}
}

// runNext executes the highest priority queued item on the calling goroutine.
func (p *Pool) runNext() bool {
	w, _, ok := p.queue.Take()
	if !ok {
		return false
	}
	p.pending.Add(-1)
	p.metrics.SetQueueDepth(int(p.pending.Load()))
	p.execute(w)
	return true
}

func (p *Pool) execute(w *WorkItem) {
	if w.cancelled.Load() {
		p.finish(w, ItemStatusCancelled, 0)
		return
	}

	w.status.Store(int32(ItemStatusRunning))
	p.metrics.SetRunning(int(p.running.Add(1)))
	if waited := p.clock.Position() - w.queuedAt; waited > 0 {
		p.metrics.RecordStarted(time.Duration(waited))
	}

	start := time.Now()
	status := p.run(w)
	// Finish before dropping the running count so Flush never returns ahead
	// of the item's outcome being recorded.
	p.finish(w, status, time.Since(start))
	p.metrics.SetRunning(int(p.running.Add(-1)))
}

// run calls the item body and converts a panic into ItemStatusPanicked.
func (p *Pool) run(w *WorkItem) (status ItemStatus) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("work item panicked: %v", r).
				Component(ComponentScheduler).
				Category(errors.CategoryScheduler).
				Priority(errors.PriorityHigh).
				Context("item", w.name).
				Context("stack", string(debug.Stack())).
				Build()
			p.log.Error("work item panicked",
				logger.String("item", w.name),
				logger.Error(err))
			status = ItemStatusPanicked
		}
	}()

	w.fn(&Token{item: w})
	if w.cancelled.Load() {
		return ItemStatusCancelled
	}
	return ItemStatusCompleted
}

// finish records the outcome and releases waiters. Exactly one goroutine
// finishes an item: the one that took it from a queue or removed it.
func (p *Pool) finish(w *WorkItem, status ItemStatus, elapsed time.Duration) {
	w.status.Store(int32(status))
	close(w.done)

	var label string
	switch status {
	case ItemStatusCancelled:
		p.cancelled.Add(1)
		label = metrics.StatusCancelled
	case ItemStatusPanicked:
		p.panicked.Add(1)
		label = metrics.StatusPanicked
	default:
		p.completed.Add(1)
		label = metrics.StatusCompleted
	}
	p.metrics.RecordFinished(label, elapsed)
}

func (p *Pool) updateLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if moved := p.UpdatePriorities(); moved > 0 {
				p.log.Trace("priorities updated", logger.Int("moved", moved))
			}
		}
	}
}

// UpdatePriorities runs one priority update pass and returns the number of
// items moved. The pool runs it on a ticker when an update interval is set.
func (p *Pool) UpdatePriorities() int {
	moved := p.queue.UpdatePriorities(p.clock.Position())
	p.metrics.RecordPriorityMoves(moved)
	return moved
}

// Flush blocks until the worker queue is empty and no item is running. The
// caller executes queued items itself while it waits. Flush only terminates
// if the caller is the sole producer for the pool; ctx bounds the wait.
func (p *Pool) Flush(ctx context.Context) error {
	for {
		if p.runNext() {
			continue
		}
		if p.pending.Load() == 0 && p.running.Load() == 0 {
			return nil
		}
		if err := sleepCtx(ctx, flushPoll); err != nil {
			return err
		}
	}
}

// WaitForAll flushes the worker queue and drains the main-thread queue until
// both are empty. Call it only from the owning goroutine.
func (p *Pool) WaitForAll(ctx context.Context) error {
	for {
		if err := p.Flush(ctx); err != nil {
			return err
		}
		if p.main.Drain(0) == 0 && p.pending.Load() == 0 && p.running.Load() == 0 {
			return nil
		}
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		Queued:     p.pending.Load(),
		Running:    p.running.Load(),
		MainThread: p.main.Len(),
		Completed:  p.completed.Load(),
		Cancelled:  p.cancelled.Load(),
		Panicked:   p.panicked.Load(),
		Moved:      p.queue.Moved(),
	}
}

// Close stops the workers after their current items and cancels everything
// still queued. It is safe to call more than once.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()

	dropped := 0
	for {
		w, _, ok := p.queue.Take()
		if !ok {
			break
		}
		p.pending.Add(-1)
		w.cancelled.Store(true)
		p.finish(w, ItemStatusCancelled, 0)
		dropped++
	}
	dropped += p.main.cancelAll()

	p.metrics.SetQueueDepth(0)
	p.log.Debug("worker pool closed", logger.Int("dropped_items", dropped))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
