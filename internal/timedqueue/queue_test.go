package timedqueue

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

type collectSink struct {
	got []int
	err error
}

func (s *collectSink) Write(p int) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, p)
	return nil
}

func newQueue(t *testing.T, clock Clock, opts Options) (*Queue[int], *collectSink) {
	t.Helper()
	sink := &collectSink{}
	q, err := New[int](clock, sink, opts)
	require.NoError(t, err)
	return q, sink
}

func TestNewValidatesArguments(t *testing.T) {
	clock := NewManualClock(0)
	_, err := New[int](clock, nil, Options{Capacity: 1})
	require.Error(t, err)

	_, err = New[int](clock, SinkFunc[int](func(int) error { return nil }), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestSubmitDeliversInOrder(t *testing.T) {
	clock := NewManualClock(0)
	q, sink := newQueue(t, clock, Options{Capacity: 8})

	for i := range 5 {
		require.True(t, q.SubmitPacket(i, 100, false, nil))
		clock.Advance(50)
		q.NeedPacket()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, sink.got)
	assert.Equal(t, int64(500), q.NextPosition())
}

func TestLatePacketDroppedInDropMode(t *testing.T) {
	clock := NewManualClock(1000)
	q, sink := newQueue(t, clock, Options{Capacity: 4, DropLate: true})

	assert.False(t, q.SubmitPacket(1, 100, false, nil), "interval [0,100) is behind the clock")
	assert.Empty(t, sink.got)
	assert.Equal(t, int64(100), q.NextPosition(), "dropped interval is still consumed")

	pos := int64(1000)
	assert.True(t, q.SubmitPacket(2, 100, false, &pos))
	assert.Equal(t, []int{2}, sink.got)

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(1), stats.Submitted)
}

func TestLatePacketRetainedWithoutDropMode(t *testing.T) {
	clock := NewManualClock(1000)
	q, sink := newQueue(t, clock, Options{Capacity: 4})

	assert.True(t, q.SubmitPacket(1, 100, false, nil))
	assert.Equal(t, []int{1}, sink.got)
	assert.Equal(t, 1, q.Len())

	assert.True(t, q.NeedPacket())
	assert.Zero(t, q.Len(), "late record is evicted on the next check")
}

func TestSubmitRejectsWhenFullOrSinkFails(t *testing.T) {
	clock := NewManualClock(0)
	q, sink := newQueue(t, clock, Options{Capacity: 1})

	require.True(t, q.SubmitPacket(1, 10, false, nil))
	assert.False(t, q.SubmitPacket(2, 10, false, nil))
	assert.Equal(t, int64(10), q.NextPosition(), "a refused packet keeps its interval")

	clock.Set(10)
	require.True(t, q.NeedPacket())
	sink.err = errors.NewStd("device ring full")
	assert.False(t, q.SubmitPacket(3, 10, true, nil))
	assert.Equal(t, []int{1}, sink.got)
	assert.Equal(t, uint64(2), q.Stats().Dropped)
	assert.Equal(t, int64(10), q.NextPosition())
	assert.Equal(t, int64(-1), q.EndTick(), "a refused final packet does not fix the end")

	// The retry lands right after the first packet.
	sink.err = nil
	require.True(t, q.SubmitPacket(3, 10, true, nil))
	assert.Equal(t, []int{1, 3}, sink.got)
	assert.Equal(t, int64(20), q.NextPosition())
	assert.Equal(t, int64(10), q.PlayableDuration())
	assert.Equal(t, int64(20), q.EndTick())
}

func TestNonPositiveDurationPanics(t *testing.T) {
	q, _ := newQueue(t, NewManualClock(0), Options{Capacity: 1})
	assert.Panics(t, func() { q.SubmitPacket(1, 0, false, nil) })
}

// Five 100-tick packets through a capacity-3 queue with the clock stepping 100
// ticks per check.
func TestFivePacketCapacityThreeScenario(t *testing.T) {
	clock := NewManualClock(0)
	q, sink := newQueue(t, clock, Options{Capacity: 3})

	next := 0
	for tick := int64(0); tick <= 700; tick += 100 {
		clock.Set(tick)

		for {
			need := q.NeedPacket()
			assert.Equal(t, q.Len() < 3, need, "tick %d", tick)
			if !need || next == 5 {
				break
			}
			next++
			require.True(t, q.SubmitPacket(next, 100, next == 5, nil))
		}

		assert.Equal(t, tick >= 500, q.IsAtEnd(), "tick %d", tick)

		unexpired := 0
		for i := 1; i <= next; i++ {
			if int64(i*100) > tick {
				unexpired++
			}
		}
		assert.Equal(t, unexpired, q.Len(), "tick %d", tick)
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, sink.got)
	assert.Equal(t, int64(500), q.EndTick())
}

func TestIsAtEndInDropModeNeedsAllTicks(t *testing.T) {
	clock := NewManualClock(0)
	q, _ := newQueue(t, clock, Options{Capacity: 2, DropLate: true, TotalDuration: 300})

	require.True(t, q.SubmitPacket(1, 100, false, nil))
	clock.Set(400)
	assert.False(t, q.IsAtEnd(), "ticks 100..300 were never submitted")

	assert.False(t, q.SubmitPacket(2, 200, false, nil))
	assert.True(t, q.IsAtEnd())
}

func TestDurations(t *testing.T) {
	clock := NewManualClock(0)
	q, _ := newQueue(t, clock, Options{Capacity: 4})

	assert.Zero(t, q.PlayableDuration())
	for i := range 3 {
		require.True(t, q.SubmitPacket(i, 100, false, nil))
	}
	assert.Equal(t, int64(300), q.QueuedDuration())
	assert.Equal(t, int64(300), q.PlayableDuration())

	clock.Set(150)
	q.NeedPacket()
	assert.Equal(t, int64(200), q.QueuedDuration())
	assert.Equal(t, int64(150), q.PlayableDuration())
}

func TestReset(t *testing.T) {
	clock := NewManualClock(0)
	q, _ := newQueue(t, clock, Options{Capacity: 2})

	require.True(t, q.SubmitPacket(1, 100, true, nil))
	require.Equal(t, int64(100), q.EndTick())

	q.Reset(5000)
	assert.Zero(t, q.Len())
	assert.Zero(t, q.QueuedDuration())
	assert.Equal(t, int64(-1), q.EndTick())
	assert.Equal(t, int64(5000), q.NextPosition())

	clock.Set(5000)
	require.True(t, q.SubmitPacket(2, 100, false, nil))
	assert.Equal(t, int64(100), q.PlayableDuration())
}

func TestQueueMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metrics.NewStreamMetrics(registry)
	require.NoError(t, err)

	clock := NewManualClock(200)
	q, _ := newQueue(t, clock, Options{Capacity: 4, DropLate: true, Metrics: m})
	q.SubmitPacket(1, 100, false, nil)
	q.SubmitPacket(2, 100, false, nil)
	q.SubmitPacket(3, 100, false, nil)
	clock.Set(300)
	q.NeedPacket()

	expected := `
# HELP stream_packets_evicted_total Total number of packet records evicted after the clock passed them
# TYPE stream_packets_evicted_total counter
stream_packets_evicted_total 1
# HELP stream_packets_submitted_total Total number of packets submitted to timed queues
# TYPE stream_packets_submitted_total counter
stream_packets_submitted_total{result="dropped"} 2
stream_packets_submitted_total{result="queued"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"stream_packets_evicted_total", "stream_packets_submitted_total"))
}

func TestWallClock(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	c := &WallClock{rate: 48000, now: func() time.Time { return now }}
	c.base.Store(base.UnixNano())

	now = base.Add(500 * time.Millisecond)
	assert.Equal(t, int64(24000), c.Position())

	c.Reset(1000)
	now = now.Add(time.Second)
	assert.Equal(t, int64(49000), c.Position())
	assert.Equal(t, 48000, c.Rate())
}

func TestClockFunc(t *testing.T) {
	var c Clock = ClockFunc(func() int64 { return 42 })
	assert.Equal(t, int64(42), c.Position())
}
