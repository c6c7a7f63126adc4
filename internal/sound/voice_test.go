package sound

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/decode"
	"github.com/tphakala/audiostream/internal/device"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

func TestStreamingVoicePlaysToEnd(t *testing.T) {
	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{})

	b, ok := sys.CreateBuffer(rampSource(t, 25), "ramp", Streaming)
	require.True(t, ok)
	v, ok := sys.CreateVoice(b)
	require.True(t, ok)
	assert.False(t, v.Virtual())
	tr := backend.transport(0)

	require.NoError(t, v.Play())
	assert.Equal(t, BufferLoading, b.Status(), "play loads an unloaded buffer")
	assert.Equal(t, VoiceBlocked, v.Status())

	eventually(t, func() bool {
		sys.Update()
		return v.Status() == VoicePlaying
	})
	assert.Equal(t, device.StatusPlaying, tr.Status())

	eventually(t, func() bool {
		tr.consume(4)
		sys.Update()
		return v.Status() == VoiceStopped
	})

	assert.Equal(t, BufferAtEnd, b.Status())
	assert.Equal(t, int64(25), v.Tell())
	assert.Equal(t, device.StatusStopped, tr.Status())
	assert.Equal(t, rampSamples(25, 25), tr.played())
}

func TestStreamingBufferHasOneVoice(t *testing.T) {
	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{})

	b, ok := sys.CreateBuffer(rampSource(t, 40), "ramp", Streaming)
	require.True(t, ok)
	v1, ok := sys.CreateVoice(b)
	require.True(t, ok)

	v2, ok := sys.CreateVoice(b)
	assert.False(t, ok, "the pipeline already has a voice")
	assert.Nil(t, v2)
	assert.Equal(t, 1, sys.Stats().Voices)

	sys.DestroyVoice(v1)
	v3, ok := sys.CreateVoice(b)
	require.True(t, ok, "destroying the voice frees the buffer")
	tr := backend.transport(1)

	require.NoError(t, v3.Play())
	eventually(t, func() bool {
		tr.consume(8)
		sys.Update()
		return v3.Status() == VoiceStopped
	})
	assert.Equal(t, rampSamples(40, 40), tr.played())
}

func TestUnderrunBlocksAndResumes(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm, err := metrics.NewPlaybackMetrics(reg)
	require.NoError(t, err)

	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{Metrics: pm})
	src := newGatedSource(t, 40)

	b, ok := sys.CreateBuffer(src, "gated", Streaming)
	require.True(t, ok)

	var mu sync.Mutex
	var seen []BufferStatus
	unsubscribe := b.Subscribe(func(_ *Buffer, s BufferStatus) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsubscribe()

	v, ok := sys.CreateVoice(b)
	require.True(t, ok)
	tr := backend.transport(0)
	require.NoError(t, v.Play())

	src.permit(1)
	eventually(t, func() bool {
		sys.Update()
		return v.Status() == VoicePlaying
	})
	assert.Equal(t, BufferReady, b.Status())

	// The first packet plays out while the second read is still gated.
	tr.consume(10)
	sys.Update()
	assert.Equal(t, BufferBlocked, b.Status())
	assert.Equal(t, VoiceBlocked, v.Status())
	assert.Equal(t, device.StatusPaused, tr.Status())
	assert.Equal(t, uint64(1), sys.Stats().Underruns)

	src.permit(1)
	eventually(t, func() bool {
		sys.Update()
		return v.Status() == VoicePlaying
	})
	assert.Equal(t, BufferReady, b.Status())
	assert.Equal(t, device.StatusPlaying, tr.Status())

	mu.Lock()
	assert.Equal(t, []BufferStatus{BufferLoading, BufferReady, BufferBlocked, BufferReady}, seen)
	mu.Unlock()

	expected := `
# HELP playback_underruns_total Total number of times a playing voice blocked on an empty buffer
# TYPE playback_underruns_total counter
playback_underruns_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "playback_underruns_total"))
}

func TestSeekRestartsAtFrame(t *testing.T) {
	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{})

	b, ok := sys.CreateBuffer(rampSource(t, 100), "ramp", Streaming)
	require.True(t, ok)
	v, ok := sys.CreateVoice(b)
	require.True(t, ok)
	tr := backend.transport(0)

	require.NoError(t, v.Play())
	eventually(t, func() bool {
		tr.consume(3)
		sys.Update()
		return tr.Tell() >= 15
	})

	require.NoError(t, v.SeekFrame(50))
	assert.Equal(t, int64(50), v.Tell(), "a requested seek is reported at once")

	mark := tr.writeCount()
	eventually(t, func() bool {
		sys.Update()
		return v.Status() == VoicePlaying && tr.writeCount() > mark
	})
	assert.Equal(t, int64(50), v.Tell())

	after := tr.writesFrom(mark)
	require.NotEmpty(t, after)
	assert.Equal(t, int64(50), after[0].at)
	assert.Equal(t, float32(50), after[0].samples[0], "no packet from before the seek is played")

	eventually(t, func() bool {
		tr.consume(7)
		sys.Update()
		return v.Status() == VoiceStopped
	})
	assert.Equal(t, int64(100), v.Tell())
	tr.assertAligned(t, 100)

	eventually(t, func() bool {
		sys.Update()
		return b.pending.Load() == 0
	}, "the replaced pipeline is released")
}

func TestSeekBeforePlay(t *testing.T) {
	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{})

	b, ok := sys.CreateBuffer(rampSource(t, 60), "ramp", Streaming)
	require.True(t, ok)
	v, ok := sys.CreateVoice(b)
	require.True(t, ok)
	tr := backend.transport(0)

	require.NoError(t, v.SeekFrame(30))
	require.NoError(t, v.Play())
	assert.Equal(t, VoiceBlocked, v.Status(), "play waits for the seek")

	eventually(t, func() bool {
		sys.Update()
		return v.Status() == VoicePlaying && tr.writeCount() > 0
	})
	first := tr.writesFrom(0)[0]
	assert.Equal(t, int64(30), first.at)
	assert.Equal(t, float32(30), first.samples[0])
}

func TestSeekValidation(t *testing.T) {
	sys := newTestSystem(t, newRecordBackend(0), Options{})
	b, ok := sys.CreateBuffer(rampSource(t, 20), "ramp", Streaming)
	require.True(t, ok)
	v, ok := sys.CreateVoice(b)
	require.True(t, ok)

	assert.Error(t, v.SeekFrame(-1))
	require.NoError(t, v.SeekFrame(500))
	assert.Equal(t, int64(20), v.Tell(), "seeks clamp to the buffer length")
}

func TestLoopingStreamWraps(t *testing.T) {
	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{})

	b, ok := sys.CreateBuffer(rampSource(t, 15), "loop", Streaming)
	require.True(t, ok)
	b.SetLoop(true)
	v, ok := sys.CreateVoice(b)
	require.True(t, ok)
	tr := backend.transport(0)
	require.NoError(t, v.Play())

	eventually(t, func() bool {
		sys.Update()
		if pos := tr.Tell(); pos < 40 {
			tr.consume(min(3, 40-pos))
		}
		return tr.Tell() == 40
	})

	assert.Equal(t, int64(10), v.Tell())
	assert.NotEqual(t, VoiceStopped, v.Status())
	tr.assertAligned(t, 15)
}

func TestStaticVoicesShareBuffer(t *testing.T) {
	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{})

	b, ok := sys.CreateBuffer(rampSource(t, 25), "static", Static)
	require.True(t, ok)
	require.NoError(t, b.Load())
	eventually(t, func() bool { return b.Status() == BufferReady })

	v1, ok := sys.CreateVoice(b)
	require.True(t, ok)
	v2, ok := sys.CreateVoice(b)
	require.True(t, ok)
	tr1, tr2 := backend.transport(0), backend.transport(1)

	require.NoError(t, v1.Play())
	require.NoError(t, v2.Play())
	assert.Equal(t, VoicePlaying, v1.Status())

	eventually(t, func() bool {
		tr1.consume(4)
		tr2.consume(6)
		sys.Update()
		return v1.Status() == VoiceStopped && v2.Status() == VoiceStopped
	})
	assert.Equal(t, BufferReady, b.Status(), "static buffers stay ready")
	assert.Equal(t, rampSamples(25, 25), tr1.played())
	assert.Equal(t, rampSamples(25, 25), tr2.played())

	// Playing a finished voice starts over.
	mark := tr1.writeCount()
	require.NoError(t, v1.Play())
	eventually(t, func() bool {
		sys.Update()
		return v1.Status() == VoicePlaying && tr1.writeCount() > mark
	})
	assert.Equal(t, int64(0), tr1.writesFrom(mark)[0].at)
	tr1.assertAligned(t, 25)
}

func TestVirtualVoiceFollowsClock(t *testing.T) {
	clk := newFakeClock()
	sys := newTestSystem(t, nil, Options{Now: clk.now, DropLate: true})

	b, ok := sys.CreateBuffer(rampSource(t, 100), "virtual", Static)
	require.True(t, ok)
	require.NoError(t, b.Load())
	eventually(t, func() bool { return b.Status() == BufferReady })

	v, ok := sys.CreateVoice(b)
	require.True(t, ok)
	assert.True(t, v.Virtual())
	assert.Equal(t, 1, sys.Stats().Virtual)

	require.NoError(t, v.Play())
	assert.Equal(t, VoicePlaying, v.Status())
	clk.advance(40 * time.Millisecond)
	assert.Equal(t, int64(40), v.Tell())

	require.NoError(t, v.Pause())
	clk.advance(100 * time.Millisecond)
	assert.Equal(t, int64(40), v.Tell(), "paused voices hold their position")

	require.NoError(t, v.Play())
	clk.advance(70 * time.Millisecond)
	sys.Update()
	assert.Equal(t, VoiceStopped, v.Status())
	assert.Equal(t, int64(100), v.Tell())
}

func TestVoicesFallBackToVirtual(t *testing.T) {
	backend := newRecordBackend(1)
	sys := newTestSystem(t, backend, Options{})

	mono, ok := sys.CreateBuffer(rampSource(t, 10), "mono", Static)
	require.True(t, ok)
	v1, ok := sys.CreateVoice(mono)
	require.True(t, ok)
	v2, ok := sys.CreateVoice(mono)
	require.True(t, ok)
	assert.False(t, v1.Virtual())
	assert.True(t, v2.Virtual(), "no free channel")

	stereo, err := decode.NewMemorySource(make([]float32, 40), testRate, 2)
	require.NoError(t, err)
	sb, ok := sys.CreateBuffer(stereo, "stereo", Static)
	require.True(t, ok)
	v3, ok := sys.CreateVoice(sb)
	require.True(t, ok)
	assert.True(t, v3.Virtual(), "format differs from the device")

	stats := sys.Stats()
	assert.Equal(t, 3, stats.Voices)
	assert.Equal(t, 2, stats.Virtual)

	sys.DestroyVoice(v2)
	assert.Equal(t, VoiceNull, v2.Status())
	assert.ErrorIs(t, v2.Play(), ErrDestroyed)
	assert.Equal(t, 1, sys.Stats().Virtual)

	// The freed device channel is reused.
	sys.DestroyVoice(v1)
	v4, ok := sys.CreateVoice(mono)
	require.True(t, ok)
	assert.False(t, v4.Virtual())
}

func TestConcurrentVoiceControl(t *testing.T) {
	backend := newRecordBackend(0)
	sys := newTestSystem(t, backend, Options{})

	b, ok := sys.CreateBuffer(rampSource(t, 1000), "static", Static)
	require.True(t, ok)
	require.NoError(t, b.Load())
	eventually(t, func() bool { return b.Status() == BufferReady })

	v, ok := sys.CreateVoice(b)
	require.True(t, ok)
	tr := backend.transport(0)

	stop := make(chan struct{})
	var updater sync.WaitGroup
	updater.Go(func() {
		for {
			select {
			case <-stop:
				return
			default:
				sys.Update()
			}
		}
	})

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Go(func() {
			for i := range 300 {
				switch (g + i) % 3 {
				case 0:
					assert.NoError(t, v.Play())
				case 1:
					assert.NoError(t, v.Pause())
				default:
					assert.NoError(t, v.Stop())
				}
			}
		})
	}
	wg.Wait()
	close(stop)
	updater.Wait()
	sys.Update()

	assert.Zero(t, tr.overlap.Load(), "transport state changes never overlap")

	switch status := v.Status(); status {
	case VoicePlaying:
		assert.Equal(t, device.StatusPlaying, tr.Status())
	case VoicePaused:
		assert.Equal(t, device.StatusPaused, tr.Status())
	case VoiceStopped:
		assert.Equal(t, device.StatusStopped, tr.Status())
	default:
		t.Fatalf("voice left in %s", status)
	}
}

func TestVoiceStatusStrings(t *testing.T) {
	tests := []struct {
		status VoiceStatus
		want   string
	}{
		{VoiceNull, "null"},
		{VoiceStopped, "stopped"},
		{VoicePaused, "paused"},
		{VoicePlaying, "playing"},
		{VoiceBlocked, "blocked"},
		{VoiceTransition, "transition"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}
