package lockfree

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	id   int
	data []float32
}

func TestPoolAllocReleaseReuse(t *testing.T) {
	p := NewPool[sample]()

	h, ok := p.Alloc()
	require.True(t, ok)
	h.Value().id = 7
	assert.Equal(t, 1, h.RefCount())

	h.AddRef()
	h.Release()
	assert.Equal(t, int64(1), p.Stats().InUse)

	slot := h.Slot()
	h.Release()
	assert.Equal(t, int64(0), p.Stats().InUse)

	h2, ok := p.Alloc()
	require.True(t, ok)
	assert.Equal(t, slot, h2.Slot(), "freed slot is reused")
	assert.Zero(t, h2.Value().id, "reused value is zeroed")

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Reused)
	assert.Equal(t, uint64(1), stats.Fresh)
	assert.Equal(t, uint32(1), stats.Allocated)
	h2.Release()
}

func TestPoolResetHookKeepsCapacity(t *testing.T) {
	var resets atomic.Int32
	p := NewPool(WithReset(func(s *sample) {
		resets.Add(1)
		s.id = 0
		s.data = s.data[:0]
	}))

	h, _ := p.Alloc()
	h.Value().data = make([]float32, 16, 64)
	h.Release()

	h, _ = p.Alloc()
	assert.Equal(t, int32(1), resets.Load())
	assert.Equal(t, 64, cap(h.Value().data))
	assert.Empty(t, h.Value().data)
	h.Release()
}

func TestPoolLimit(t *testing.T) {
	p := NewPool(WithLimit[sample](2))

	a, ok := p.Alloc()
	require.True(t, ok)
	b, ok := p.Alloc()
	require.True(t, ok)
	_, ok = p.Alloc()
	assert.False(t, ok, "pool exhaustion is reported, not panicked")

	a.Release()
	c, ok := p.Alloc()
	assert.True(t, ok)
	c.Release()
	b.Release()
}

func TestPoolConcurrentChurn(t *testing.T) {
	p := NewPool[sample]()
	const (
		workers = 8
		rounds  = 5000
	)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Go(func() {
			for i := range rounds {
				h, ok := p.Alloc()
				if !ok {
					t.Error("alloc failed")
					return
				}
				h.Value().id = w*rounds + i
				if h.Value().id != w*rounds+i {
					t.Error("slot handed to two owners")
				}
				h.Release()
			}
		})
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.InUse)
	assert.Equal(t, uint64(workers*rounds), stats.Reused+stats.Fresh)
	assert.LessOrEqual(t, stats.Allocated, uint32(workers*2))
}

func TestCellSafeReadAndSwap(t *testing.T) {
	p := NewPool[sample]()
	c := NewCell(p)

	h, _ := p.Alloc()
	h.Value().id = 1
	require.True(t, c.TrySetFromTo(Handle[sample]{}, h, TagUnset))
	assert.Equal(t, 2, h.RefCount(), "cell holds its own reference")

	got, tag := c.SafeRead()
	require.True(t, got.Valid())
	assert.False(t, tag)
	assert.Equal(t, 1, got.Value().id)
	got.Release()

	other, _ := p.Alloc()
	assert.False(t, c.TrySetFromTo(other, h, TagPreserve), "stale expectation fails")
	assert.True(t, c.Mark())
	assert.False(t, c.TrySetFromTo(h, other, TagExpectUnset))
	require.True(t, c.TrySetFromTo(h, other, TagExpectSet))
	assert.True(t, c.Tagged())
	assert.Equal(t, 1, h.RefCount(), "cell released the old referent")

	taken, ok := c.Take()
	require.True(t, ok)
	assert.Equal(t, other.Slot(), taken.Slot())
	assert.True(t, c.Empty())
	taken.Release()
	other.Release()
	h.Release()
	assert.Equal(t, int64(0), p.Stats().InUse)
}

func TestCellConcurrentReadersNeverSeeFreedValue(t *testing.T) {
	p := NewPool(WithReset(func(s *sample) { s.id = -1 }))
	c := NewCell(p)

	first, _ := p.Alloc()
	first.Value().id = 0
	c.Store(first)
	first.Release()

	var wg sync.WaitGroup
	var stop atomic.Bool
	for range 4 {
		wg.Go(func() {
			for !stop.Load() {
				h, _ := c.SafeRead()
				if !h.Valid() {
					continue
				}
				if h.Value().id < 0 {
					t.Error("read through a released value")
				}
				h.Release()
			}
		})
	}

	for i := 1; i <= 2000; i++ {
		h, ok := p.Alloc()
		require.True(t, ok)
		h.Value().id = i
		c.Store(h)
		h.Release()
	}
	stop.Store(true)
	wg.Wait()

	last, ok := c.Take()
	require.True(t, ok)
	last.Release()
	assert.Equal(t, int64(0), p.Stats().InUse)
}
