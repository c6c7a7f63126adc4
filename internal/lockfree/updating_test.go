package lockfree

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ now atomic.Int64 }

func (c *manualClock) Position() int64 { return c.now.Load() }

func TestUpdatingQueueRetrievableAtNewPriority(t *testing.T) {
	clock := &manualClock{}
	q := NewUpdatingQueue[string](MaxFirst, clock)

	// Priority rises from 1 to 10 once 100 ticks have passed.
	aging := func(now int64) float64 {
		if now >= 100 {
			return 10
		}
		return 1
	}
	item := q.Insert("aged", aging, 100)
	q.Insert("steady", func(int64) float64 { return 5 }, 0)

	_, _, ok := q.TakeNext(10)
	assert.False(t, ok, "nothing at priority 10 yet")
	assert.Equal(t, 1.0, item.Priority())

	assert.Equal(t, 0, q.UpdatePriorities(50), "re-check not due")

	clock.now.Store(100)
	assert.Equal(t, 1, q.UpdatePriorities(100))
	assert.Equal(t, 10.0, item.Priority())

	v, p, ok := q.TakeNext(10)
	require.True(t, ok)
	assert.Equal(t, "aged", v)
	assert.Equal(t, 10.0, p)

	v, _, ok = q.Take()
	require.True(t, ok)
	assert.Equal(t, "steady", v)
}

func TestUpdatingQueueDropsTakenItemsOnRecheck(t *testing.T) {
	clock := &manualClock{}
	q := NewUpdatingQueue[int](MinFirst, clock)
	q.Insert(1, func(now int64) float64 { return float64(now) }, 10)

	_, _, ok := q.Take()
	require.True(t, ok)

	assert.Equal(t, 0, q.UpdatePriorities(10))
	assert.Equal(t, 0, q.PendingRechecks(), "taken item is not re-registered")
	assert.Equal(t, 0, q.Len())
}

func TestUpdatingQueueRemove(t *testing.T) {
	clock := &manualClock{}
	q := NewUpdatingQueue[int](MaxFirst, clock)
	tr := q.Insert(1, func(int64) float64 { return 3 }, 5)

	assert.True(t, q.Remove(tr))
	assert.False(t, q.Remove(tr))
	assert.True(t, tr.Claimed())

	_, _, ok := q.Take()
	assert.False(t, ok)
	assert.Equal(t, 0, q.UpdatePriorities(5))
}

func TestUpdatingQueueReRegistersLiveItems(t *testing.T) {
	clock := &manualClock{}
	q := NewUpdatingQueue[int](MaxFirst, clock)
	q.Insert(1, func(now int64) float64 { return float64(now / 10) }, 10)

	for tick := int64(10); tick <= 50; tick += 10 {
		assert.Equal(t, 1, q.UpdatePriorities(tick))
		assert.Equal(t, 1, q.PendingRechecks())
	}
	assert.Equal(t, uint64(5), q.Moved())

	_, p, ok := q.Take()
	require.True(t, ok)
	assert.Equal(t, 5.0, p)
}
