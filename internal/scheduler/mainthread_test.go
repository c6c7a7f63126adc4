package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainThreadDrainRunsOnCaller(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})
	mt := p.MainThread()

	var rec recorder
	var posters sync.WaitGroup
	for i := range 4 {
		posters.Go(func() {
			_, err := mt.PostFunc("post", func() { rec.work("x")(nil) })
			assert.NoError(t, err, "poster %d", i)
		})
	}
	posters.Wait()
	assert.Equal(t, 4, mt.Len())
	assert.Equal(t, 4, p.Stats().MainThread)

	assert.Equal(t, 4, mt.Drain(0))
	assert.Len(t, rec.get(), 4)
	assert.Zero(t, mt.Len())
	assert.Zero(t, mt.Drain(0))
}

func TestMainThreadDrainKeepsPostOrder(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})
	mt := p.MainThread()

	var rec recorder
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, mt.Post(NewWorkItem(name, rec.work(name))))
	}
	mt.Drain(0)
	assert.Equal(t, []string{"a", "b", "c"}, rec.get())
}

func TestMainThreadDrainBudget(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})
	mt := p.MainThread()

	for range 3 {
		_, err := mt.PostFunc("slow", func() { time.Sleep(5 * time.Millisecond) })
		require.NoError(t, err)
	}

	assert.Equal(t, 1, mt.Drain(time.Nanosecond), "at least one item runs even past the budget")
	assert.Equal(t, 2, mt.Len())
	assert.Equal(t, 2, mt.Drain(time.Second))
}

func TestWaitForAllDrainsMainThreadFollowUps(t *testing.T) {
	p := newTestPool(t, Options{Workers: 2})

	var rec recorder
	for range 10 {
		_, err := p.Go("decode", func(*Token) {
			_, err := p.MainThread().PostFunc("notify", func() { rec.work("notify")(nil) })
			assert.NoError(t, err)
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.WaitForAll(testCtx(t)))
	assert.Len(t, rec.get(), 10)
	stats := p.Stats()
	assert.Equal(t, uint64(20), stats.Completed)
	assert.Zero(t, stats.MainThread)
}
