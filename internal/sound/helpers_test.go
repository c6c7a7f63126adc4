package sound

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/decode"
	"github.com/tphakala/audiostream/internal/device"
	"github.com/tphakala/audiostream/internal/packetizer"
	"github.com/tphakala/audiostream/internal/scheduler"
)

const testRate = 1000

func newTestSystem(t *testing.T, backend device.Backend, opts Options) *System {
	t.Helper()
	pool, err := scheduler.New(scheduler.Options{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	if opts.PacketFrames == 0 {
		opts.PacketFrames = 10
	}
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = 2
	}
	sys, err := NewSystem(pool, backend, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, sys.Close(ctx))
	})
	return sys
}

// rampSamples returns mono samples whose value is their frame index modulo
// period.
func rampSamples(frames, period int) []float32 {
	out := make([]float32, frames)
	for i := range out {
		out[i] = float32(i % period)
	}
	return out
}

func rampSource(t *testing.T, frames int) *decode.MemorySource {
	t.Helper()
	src, err := decode.NewMemorySource(rampSamples(frames, frames), testRate, 1)
	require.NoError(t, err)
	return src
}

// eventually polls fn until it reports true.
func eventually(t *testing.T, fn func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, fn, 5*time.Second, time.Millisecond, msgAndArgs...)
}

// gatedSource blocks every read until a permit is available. Clones share the
// gate and the close counter.
type gatedSource struct {
	*decode.MemorySource
	permits chan struct{}
	reads   *atomic.Int32
	closes  *atomic.Int32
}

func newGatedSource(t *testing.T, frames int) *gatedSource {
	t.Helper()
	g := &gatedSource{
		MemorySource: rampSource(t, frames),
		permits:      make(chan struct{}, 64),
		reads:        new(atomic.Int32),
		closes:       new(atomic.Int32),
	}
	// Registered after the system, so blocked reads are released before it
	// closes.
	t.Cleanup(func() { close(g.permits) })
	return g
}

func (g *gatedSource) permit(n int) {
	for range n {
		g.permits <- struct{}{}
	}
}

func (g *gatedSource) Read(dst []float32) (int, error) {
	g.reads.Add(1)
	<-g.permits
	return g.MemorySource.Read(dst)
}

func (g *gatedSource) Clone() (packetizer.Source, error) {
	c, err := g.MemorySource.Clone()
	if err != nil {
		return nil, err
	}
	return &gatedSource{
		MemorySource: c.(*decode.MemorySource),
		permits:      g.permits,
		reads:        g.reads,
		closes:       g.closes,
	}, nil
}

func (g *gatedSource) Close() error {
	g.closes.Add(1)
	return nil
}

// failingSource reports an error on every read.
type failingSource struct {
	*decode.MemorySource
}

func (failingSource) Read([]float32) (int, error) {
	return 0, assert.AnError
}

type write struct {
	at      int64 // frame the first sample plays at
	samples []float32
}

// recordTransport is a mono transport that records writes. Its position only
// advances through consume while playing.
type recordTransport struct {
	mu     sync.Mutex
	status device.Status
	pos    int64
	queued int64
	writes []write

	inOp    atomic.Int32
	overlap atomic.Int32
}

var _ device.Transport = (*recordTransport)(nil)

// op runs a state change and counts state changes that overlap.
func (r *recordTransport) op(fn func()) error {
	if r.inOp.Add(1) > 1 {
		r.overlap.Add(1)
	}
	defer r.inOp.Add(-1)
	runtime.Gosched()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == device.StatusClosed {
		return device.ErrClosed
	}
	fn()
	return nil
}

func (r *recordTransport) Play() error {
	return r.op(func() { r.status = device.StatusPlaying })
}

func (r *recordTransport) Pause() error {
	return r.op(func() { r.status = device.StatusPaused })
}

func (r *recordTransport) Stop() error {
	return r.op(func() {
		r.status = device.StatusStopped
		r.queued = 0
	})
}

func (r *recordTransport) Close() error {
	return r.op(func() { r.status = device.StatusClosed })
}

func (r *recordTransport) SeekFrame(frame int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = max(0, frame)
	r.queued = 0
	return nil
}

func (r *recordTransport) Tell() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *recordTransport) Status() device.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *recordTransport) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == device.StatusClosed {
		return device.ErrClosed
	}
	r.writes = append(r.writes, write{at: r.pos + r.queued, samples: slices.Clone(samples)})
	r.queued += int64(len(samples))
	return nil
}

func (r *recordTransport) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.queued)
}

// consume plays up to n queued frames.
func (r *recordTransport) consume(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != device.StatusPlaying {
		return
	}
	d := min(n, r.queued)
	r.pos += d
	r.queued -= d
}

func (r *recordTransport) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordTransport) writesFrom(i int) []write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.writes[i:])
}

// played concatenates every written sample.
func (r *recordTransport) played() []float32 {
	var out []float32
	for _, w := range r.writesFrom(0) {
		out = append(out, w.samples...)
	}
	return out
}

// assertAligned checks that every written sample carries the ramp value of
// the frame it plays at.
func (r *recordTransport) assertAligned(t *testing.T, period int64) {
	t.Helper()
	for _, w := range r.writesFrom(0) {
		for i, s := range w.samples {
			want := float32((w.at + int64(i)) % period)
			if !assert.Equal(t, want, s, "sample at frame %d", w.at+int64(i)) {
				return
			}
		}
	}
}

// recordBackend hands out recordTransports up to limit at once.
type recordBackend struct {
	mu         sync.Mutex
	format     device.Format
	limit      int
	transports []*recordTransport
}

func newRecordBackend(limit int) *recordBackend {
	return &recordBackend{format: device.Format{SampleRate: testRate, Channels: 1}, limit: limit}
}

func (b *recordBackend) Name() string          { return "record" }
func (b *recordBackend) Format() device.Format { return b.format }
func (b *recordBackend) Close() error          { return nil }

func (b *recordBackend) Open() (device.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := 0
	for _, tr := range b.transports {
		if tr.Status() != device.StatusClosed {
			open++
		}
	}
	if b.limit > 0 && open >= b.limit {
		return nil, device.ErrNoChannel
	}
	tr := &recordTransport{}
	b.transports = append(b.transports, tr)
	return tr, nil
}

func (b *recordBackend) transport(i int) *recordTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transports[i]
}

// fakeClock is a manually advanced time source for virtual voices.
type fakeClock struct {
	ns atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.ns.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) now() time.Time { return time.Unix(0, c.ns.Load()) }

func (c *fakeClock) advance(d time.Duration) { c.ns.Add(int64(d)) }
