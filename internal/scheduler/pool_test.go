package scheduler

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

func newTestPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// blockWorker occupies one worker until the returned release func is called.
func blockWorker(t *testing.T, p *Pool) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	_, err := p.Go("gate", func(*Token) {
		close(started)
		<-gate
	}, WithPriority(1000))
	require.NoError(t, err)
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) work(name string) WorkFunc {
	return func(*Token) {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// waitAll waits on the items directly; Flush would run items on the test
// goroutine and interleave with the single worker.
func waitAll(t *testing.T, items ...*WorkItem) {
	t.Helper()
	ctx := testCtx(t)
	for _, w := range items {
		require.NoError(t, w.Wait(ctx))
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPoolRunsHighestPriorityFirst(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})
	release := blockWorker(t, p)

	var rec recorder
	var items []*WorkItem
	for _, item := range []struct {
		name     string
		priority float64
	}{{"low", 1}, {"high", 5}, {"mid", 3}} {
		w, err := p.Go(item.name, rec.work(item.name), WithPriority(item.priority))
		require.NoError(t, err)
		items = append(items, w)
	}

	release()
	waitAll(t, items...)
	assert.Equal(t, []string{"high", "mid", "low"}, rec.get())
}

func TestPoolContextBiasScalesPriority(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})
	background := p.NewContext("background", 0.1)
	interactive := p.NewContext("interactive", 10)
	release := blockWorker(t, p)

	var rec recorder
	bg, err := p.Go("bg", rec.work("bg"), WithPriority(5), WithContext(background))
	require.NoError(t, err)
	ui, err := p.Go("ui", rec.work("ui"), WithPriority(1), WithContext(interactive))
	require.NoError(t, err)

	release()
	waitAll(t, bg, ui)
	assert.Equal(t, []string{"ui", "bg"}, rec.get())
}

func TestPoolAgingOvertakesNewerWork(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1, AgingInterval: time.Millisecond})
	release := blockWorker(t, p)

	var rec recorder
	old, err := p.Go("old", rec.work("old"), WithPriority(1), WithAging(1000))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	fresh, err := p.Go("new", rec.work("new"), WithPriority(5))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, p.UpdatePriorities(), 1)
	assert.GreaterOrEqual(t, p.Stats().Moved, uint64(1))

	release()
	waitAll(t, old, fresh)
	assert.Equal(t, []string{"old", "new"}, rec.get())
}

func TestCancelQueuedItemNeverRuns(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})
	release := blockWorker(t, p)

	var ran atomic.Bool
	w, err := p.Go("doomed", func(*Token) { ran.Store(true) })
	require.NoError(t, err)
	assert.Equal(t, ItemStatusQueued, w.Status())

	w.Cancel()
	require.NoError(t, w.Wait(testCtx(t)))
	assert.Equal(t, ItemStatusCancelled, w.Status())
	assert.True(t, w.IsCancelled())

	release()
	require.NoError(t, p.Flush(testCtx(t)))
	assert.False(t, ran.Load())

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Cancelled)
	assert.Equal(t, int64(0), stats.Queued)
}

func TestCancelBeforeQueue(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})

	var ran atomic.Bool
	w := NewWorkItem("early", func(*Token) { ran.Store(true) })
	w.Cancel()
	require.NoError(t, p.Queue(w))

	require.NoError(t, w.Wait(testCtx(t)))
	require.NoError(t, p.Flush(testCtx(t)))
	assert.Equal(t, ItemStatusCancelled, w.Status())
	assert.False(t, ran.Load())
}

func TestCancelRunningItemAtCancellationPoint(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})

	started := make(chan struct{})
	var steps atomic.Int64
	w, err := p.Go("loop", func(tok *Token) {
		close(started)
		for !tok.CancellationPoint() {
			steps.Add(1)
			time.Sleep(time.Millisecond)
		}
	})
	require.NoError(t, err)

	<-started
	w.Cancel()
	require.NoError(t, w.Wait(testCtx(t)))
	assert.Equal(t, ItemStatusCancelled, w.Status())
	assert.Positive(t, steps.Load())
}

func TestPanicIsRecovered(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})

	bad, err := p.Go("bad", func(*Token) { panic("boom") })
	require.NoError(t, err)
	var ran atomic.Bool
	good, err := p.Go("good", func(*Token) { ran.Store(true) })
	require.NoError(t, err)

	ctx := testCtx(t)
	require.NoError(t, bad.Wait(ctx))
	require.NoError(t, good.Wait(ctx))

	assert.Equal(t, ItemStatusPanicked, bad.Status())
	assert.Equal(t, ItemStatusCompleted, good.Status())
	assert.True(t, ran.Load())
	assert.Equal(t, uint64(1), p.Stats().Panicked)
}

func TestFlushWaitsForAllWork(t *testing.T) {
	p := newTestPool(t, Options{Workers: 4})

	var count atomic.Int64
	var producers sync.WaitGroup
	for range 4 {
		producers.Go(func() {
			for range 250 {
				_, err := p.Go("inc", func(*Token) { count.Add(1) })
				assert.NoError(t, err)
			}
		})
	}
	producers.Wait()

	require.NoError(t, p.Flush(testCtx(t)))
	assert.Equal(t, int64(1000), count.Load())

	stats := p.Stats()
	assert.Equal(t, uint64(1000), stats.Completed)
	assert.Zero(t, stats.Queued)
	assert.Zero(t, stats.Running)
}

func TestFlushHonoursContext(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})
	release := blockWorker(t, p)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Flush(ctx), context.DeadlineExceeded)
}

func TestQueueErrors(t *testing.T) {
	p, err := New(Options{Workers: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Queue(nil), ErrNilWork)
	assert.ErrorIs(t, p.Queue(NewWorkItem("nil body", nil)), ErrNilWork)

	w := NewWorkItem("once", func(*Token) {})
	require.NoError(t, p.Queue(w))
	err = p.Queue(w)
	require.ErrorIs(t, err, ErrAlreadyQueued)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Queue(NewWorkItem("late", func(*Token) {})), ErrPoolClosed)
	assert.ErrorIs(t, p.MainThread().Post(NewWorkItem("late", func(*Token) {})), ErrPoolClosed)
}

func TestNewRejectsNegativeWorkers(t *testing.T) {
	_, err := New(Options{Workers: -1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNewSizesFromCPU(t *testing.T) {
	p := newTestPool(t, Options{})
	assert.GreaterOrEqual(t, p.Workers(), 1)
}

func TestCloseCancelsQueuedItems(t *testing.T) {
	p, err := New(Options{Workers: 1})
	require.NoError(t, err)
	release := blockWorker(t, p)

	w, err := p.Go("stranded", func(*Token) {})
	require.NoError(t, err)
	posted, err := p.MainThread().PostFunc("stranded-main", func() {})
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool { return p.ctx.Err() != nil }, time.Second, time.Millisecond)
	release()
	<-closed

	assert.Equal(t, ItemStatusCancelled, w.Status())
	assert.Equal(t, ItemStatusCancelled, posted.Status())
	assert.Equal(t, uint64(2), p.Stats().Cancelled)
}

func TestItemsQueuedDuringCloseAlwaysFinish(t *testing.T) {
	for round := range 50 {
		p, err := New(Options{Workers: 1})
		require.NoError(t, err)

		items := make([]*WorkItem, 64)
		for i := range items {
			items[i] = NewWorkItem("racing", func(*Token) {})
		}

		var wg sync.WaitGroup
		wg.Go(func() {
			for i, w := range items {
				if i%2 == 0 {
					_ = p.Queue(w)
				} else {
					_ = p.MainThread().Post(w)
				}
			}
		})
		wg.Go(func() { _ = p.Close() })
		wg.Wait()
		p.MainThread().Drain(0)

		for i, w := range items {
			if w.Status() == ItemStatusCreated {
				continue
			}
			select {
			case <-w.Done():
			case <-time.After(time.Second):
				t.Fatalf("round %d: item %d stuck in %v", round, i, w.Status())
			}
		}
	}
}

func TestPoolMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metrics.NewSchedulerMetrics(registry)
	require.NoError(t, err)

	p := newTestPool(t, Options{Workers: 2, Metrics: m})
	for range 5 {
		_, err := p.Go("tick", func(*Token) {})
		require.NoError(t, err)
	}
	_, err = p.Go("bad", func(*Token) { panic("boom") })
	require.NoError(t, err)
	require.NoError(t, p.Flush(testCtx(t)))

	expected := `
# HELP scheduler_items_finished_total Total number of work items finished by outcome
# TYPE scheduler_items_finished_total counter
scheduler_items_finished_total{status="completed"} 5
scheduler_items_finished_total{status="panicked"} 1
# HELP scheduler_items_queued_total Total number of work items queued
# TYPE scheduler_items_queued_total counter
scheduler_items_queued_total{context="root"} 6
# HELP scheduler_workers Number of worker goroutines
# TYPE scheduler_workers gauge
scheduler_workers 2
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"scheduler_items_finished_total", "scheduler_items_queued_total", "scheduler_workers"))
}
