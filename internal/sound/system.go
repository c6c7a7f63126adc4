package sound

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/decode"
	"github.com/tphakala/audiostream/internal/device"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/lockfree"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability/metrics"
	"github.com/tphakala/audiostream/internal/packetizer"
	"github.com/tphakala/audiostream/internal/scheduler"
)

// Options configures a System
type Options struct {
	PacketFrames     int  // frames per streaming packet and per static submit
	QueueCapacity    int  // packets queued ahead of the device per voice
	DropLate         bool // drop packets whose end tick already passed
	MaxBuffers       int
	MaxVoices        int // voices alive at once, audible and virtual
	UpdateInterval   time.Duration
	MainThreadBudget time.Duration
	UnderrunLogRate  float64 // underrun warnings per second
	UnderrunLogBurst int
	CacheTTL         time.Duration
	CacheCleanup     time.Duration

	Metrics       *metrics.PlaybackMetrics
	StreamMetrics *metrics.StreamMetrics
	Logger        logger.Logger
	// Now is the time source of virtual voices.
	Now func() time.Time
}

// OptionsFromSettings derives system options from the application settings.
func OptionsFromSettings(s *conf.Settings) Options {
	return Options{
		PacketFrames:     s.Stream.PacketFrames,
		QueueCapacity:    s.Stream.QueueCapacity,
		DropLate:         s.Stream.DropLate,
		MaxBuffers:       s.Stream.MaxBuffers,
		MaxVoices:        s.Device.MaxVoices + s.Device.VirtualVoices,
		UpdateInterval:   s.Device.UpdateInterval,
		MainThreadBudget: s.Scheduler.MainThreadBudget,
		UnderrunLogRate:  s.Stream.UnderrunLogRate,
		UnderrunLogBurst: s.Stream.UnderrunLogBurst,
		CacheTTL:         s.Cache.TTL,
		CacheCleanup:     s.Cache.CleanupInterval,
	}
}

func (o *Options) setDefaults() {
	if o.PacketFrames <= 0 {
		o.PacketFrames = conf.DefaultPacketFrames
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = conf.DefaultQueueCapacity
	}
	if o.MaxBuffers <= 0 {
		o.MaxBuffers = conf.DefaultMaxBuffers
	}
	if o.MaxVoices <= 0 {
		o.MaxVoices = conf.DefaultMaxVoices + conf.DefaultVirtualVoices
	}
	if o.Logger == nil {
		o.Logger = GetLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Stats is a snapshot of system counters
type Stats struct {
	Buffers   int
	Voices    int
	Virtual   int
	Finished  int
	Underruns uint64
}

// System owns buffers and voices. Create and destroy them from the owning
// goroutine; Update runs either there, through Tick, or on the updater
// goroutine started by Start.
type System struct {
	id            string
	opts          Options
	pool          *scheduler.Pool
	backend       device.Backend
	log           logger.Logger
	metrics       *metrics.PlaybackMetrics
	streamMetrics *metrics.StreamMetrics

	streamCtx *scheduler.PriorityContext
	loadCtx   *scheduler.PriorityContext
	packets   sync.Map // channel count -> *packetizer.PacketPool

	buffers  *registry[*Buffer]
	voices   *registry[*Voice]
	finished *registry[*Buffer]

	cache       *cache.Cache
	lastCleanup atomic.Int64
	underruns   *rate.Limiter
	underrunN   atomic.Uint64
	virtualN    atomic.Int64

	updating atomic.Bool
	trigger  chan struct{}
	stop     chan struct{}
	started  atomic.Bool
	closed   atomic.Bool
	wg       sync.WaitGroup
	once     sync.Once
}

// NewSystem creates a sound system scheduling decode work on pool and playing
// through backend. A nil backend plays every voice virtually.
func NewSystem(pool *scheduler.Pool, backend device.Backend, opts Options) (*System, error) {
	if pool == nil {
		return nil, errors.Newf("sound system needs a worker pool").
			Component(ComponentSound).
			Category(errors.CategoryValidation).
			Build()
	}
	opts.setDefaults()

	s := &System{
		id:            uuid.NewString(),
		opts:          opts,
		pool:          pool,
		backend:       backend,
		metrics:       opts.Metrics,
		streamMetrics: opts.StreamMetrics,
		streamCtx:     pool.NewContext("stream", 2),
		loadCtx:       pool.NewContext("load", 1),
		buffers:       newRegistry[*Buffer](),
		voices:        newRegistry[*Voice](),
		finished:      newRegistry[*Buffer](),
		// Expired entries are removed from Update, so the cache runs no janitor.
		cache:     cache.New(opts.CacheTTL, -1),
		underruns: rate.NewLimiter(rate.Limit(opts.UnderrunLogRate), opts.UnderrunLogBurst),
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	s.log = opts.Logger.With(logger.String("system", s.id))
	s.lastCleanup.Store(opts.Now().UnixNano())
	return s, nil
}

// ID returns the system's unique identifier.
func (s *System) ID() string { return s.id }

// Pool returns the worker pool decode work runs on.
func (s *System) Pool() *scheduler.Pool { return s.pool }

func (s *System) packetPool(channels int) (*packetizer.PacketPool, error) {
	if pp, ok := s.packets.Load(channels); ok {
		return pp.(*packetizer.PacketPool), nil
	}
	pp, err := packetizer.NewPacketPool(s.opts.PacketFrames, channels, 0, s.streamMetrics)
	if err != nil {
		return nil, err
	}
	actual, _ := s.packets.LoadOrStore(channels, pp)
	return actual.(*packetizer.PacketPool), nil
}

func (s *System) newDecodeState(b *Buffer, src decode.Source, start int64) (*decodeState, error) {
	pp, err := s.packetPool(b.format.Channels)
	if err != nil {
		return nil, err
	}
	return &decodeState{
		src: src,
		stream: packetizer.NewStream(src, s.pool, pp, packetizer.Options{
			Name:    b.name,
			Loop:    b.loop.Load(),
			Context: s.streamCtx,
			Metrics: s.streamMetrics,
			Logger:  b.log,
			OnReady: s.Trigger,
		}),
		drain: lockfree.NewDeque[packetizer.PacketRef](),
		start: start,
	}, nil
}

// CreateBuffer wraps src in an unloaded buffer. It returns false when the
// system is closed or the buffer limit is reached; the caller keeps
// ownership of src in that case.
func (s *System) CreateBuffer(src decode.Source, name string, kind Kind) (*Buffer, bool) {
	if s.closed.Load() || src == nil {
		return nil, false
	}
	b := newBuffer(s, src, name, kind)
	if !s.buffers.add(b, s.opts.MaxBuffers) {
		s.log.Warn("buffer limit reached", logger.Int("max_buffers", s.opts.MaxBuffers))
		return nil, false
	}
	s.metrics.SetBuffersActive(s.buffers.len())
	return b, true
}

// LoadFile opens path and starts loading it. Static files are served from the
// decoded-buffer cache when possible.
func (s *System) LoadFile(path string, kind Kind) (*Buffer, error) {
	if s.closed.Load() {
		return nil, ErrSystemClosed
	}

	var src decode.Source
	hit := false
	if kind == Static {
		if v, ok := s.cache.Get(path); ok {
			src, hit = v.(*decode.MemorySource), true
		}
	}
	if src == nil {
		var err error
		if src, err = decode.Open(path); err != nil {
			return nil, err
		}
	}

	b, ok := s.CreateBuffer(src, path, kind)
	if !ok {
		_ = src.Close()
		return nil, ErrNoBuffer
	}
	if kind == Static {
		b.recordCache(hit)
		b.cacheKey = path
		if hit {
			b.memory.Store(src.(*decode.MemorySource))
		}
	}
	if err := b.Load(); err != nil {
		return b, err
	}
	return b, nil
}

func (s *System) cachePut(key string, mem *decode.MemorySource) {
	s.cache.Set(key, mem, cache.DefaultExpiration)
}

// CreateVoice binds a voice to b. The voice gets a device channel when one is
// free and the formats match, otherwise it plays virtually. It returns false
// when the voice limit is reached or a streaming buffer already has a voice.
func (s *System) CreateVoice(b *Buffer) (*Voice, bool) {
	if s.closed.Load() || b == nil || b.dead.Load() {
		return nil, false
	}
	if s.voices.len() >= s.opts.MaxVoices {
		s.metrics.RecordVoiceAllocFailure()
		s.log.Warn("voice limit reached", logger.Int("max_voices", s.opts.MaxVoices))
		return nil, false
	}
	if !b.claim() {
		s.metrics.RecordVoiceAllocFailure()
		s.log.Warn("streaming buffer already has a voice", logger.String("buffer", b.name))
		return nil, false
	}

	transport, virtual := s.openTransport(b)
	v, err := newVoice(s, b, transport, virtual)
	if err != nil {
		_ = transport.Close()
		b.unclaim()
		s.log.Warn("failed to create voice", logger.Error(err))
		return nil, false
	}
	if !s.voices.add(v, s.opts.MaxVoices) {
		v.destroy()
		b.unclaim()
		s.metrics.RecordVoiceAllocFailure()
		return nil, false
	}
	if virtual {
		s.virtualN.Add(1)
	}
	s.metrics.SetVoicesActive(s.voices.len())
	return v, true
}

func (s *System) openTransport(b *Buffer) (device.Transport, bool) {
	virtual := func() (device.Transport, bool) {
		return newVirtualTransport(b.format.SampleRate, s.opts.Now), true
	}
	if s.backend == nil {
		return virtual()
	}
	if f := s.backend.Format(); f.SampleRate != b.format.SampleRate || f.Channels != b.format.Channels {
		s.log.Warn("buffer format does not match the device, playing virtually",
			logger.String("buffer", b.name),
			logger.Int("buffer_rate", b.format.SampleRate),
			logger.Int("device_rate", f.SampleRate),
			logger.Int("buffer_channels", b.format.Channels),
			logger.Int("device_channels", f.Channels))
		return virtual()
	}
	t, err := s.backend.Open()
	if err != nil {
		if errors.Is(err, device.ErrNoChannel) {
			s.log.Debug("no free channel, playing virtually", logger.String("buffer", b.name))
		} else {
			s.log.Warn("failed to open transport, playing virtually", logger.Error(err))
		}
		return virtual()
	}
	return t, false
}

// DestroyVoice stops v and releases its channel.
func (s *System) DestroyVoice(v *Voice) {
	if v == nil || !s.voices.remove(v) {
		return
	}
	v.destroy()
	if b := v.buffer.Value(); b != nil {
		b.unclaim()
	}
	if v.virtual {
		s.virtualN.Add(-1)
	}
	s.metrics.SetVoicesActive(s.voices.len())
}

// DestroyBuffer stops b's decode work. Voices bound to it stop. When reads
// are still in flight the buffer is parked on the finished list and released
// on the owning goroutine once they complete.
func (s *System) DestroyBuffer(b *Buffer) {
	if b == nil || !b.dead.CompareAndSwap(false, true) {
		return
	}
	s.buffers.remove(b)
	s.metrics.SetBuffersActive(s.buffers.len())
	if b.shutdown() || !s.sourceReleased(b) {
		s.finished.add(b, 0)
		return
	}
	s.release(b)
}

// sourceReleased reports whether b no longer needs its original source, which
// holds once no static load is pending.
func (s *System) sourceReleased(b *Buffer) bool {
	w := b.loader.Load()
	return w == nil || w.Status().Finished()
}

// release is the final step of buffer destruction and runs on the owning
// goroutine.
func (s *System) release(b *Buffer) {
	b.memory.Store(nil)
	b.log.Debug("buffer released")
}

// reapFinished hands buffers whose async work has completed to the owning
// goroutine for release.
func (s *System) reapFinished() {
	for _, b := range s.finished.snapshot() {
		if b.reap() || !s.sourceReleased(b) {
			continue
		}
		b.releaseSource()
		if !s.finished.remove(b) {
			continue
		}
		if _, err := s.pool.MainThread().PostFunc("release/"+b.name, func() { s.release(b) }); err != nil {
			s.release(b)
		}
	}
}

// Update pulls decoded packets into buffers, feeds voices and evaluates
// status. Concurrent calls are skipped rather than serialised.
func (s *System) Update() {
	if s.closed.Load() || !s.updating.CompareAndSwap(false, true) {
		return
	}
	defer s.updating.Store(false)
	start := time.Now()

	s.reapFinished()
	for _, b := range s.buffers.snapshot() {
		b.update()
	}
	for _, v := range s.voices.snapshot() {
		v.update()
	}
	s.cleanupCache()

	s.metrics.RecordUpdate(time.Since(start))
}

func (s *System) cleanupCache() {
	if s.opts.CacheCleanup <= 0 {
		return
	}
	now := s.opts.Now().UnixNano()
	last := s.lastCleanup.Load()
	if now-last < int64(s.opts.CacheCleanup) || !s.lastCleanup.CompareAndSwap(last, now) {
		return
	}
	s.cache.DeleteExpired()
}

// Trigger wakes the updater goroutine. It never blocks.
func (s *System) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs Update on a dedicated goroutine, woken by Trigger and by a
// fallback ticker when UpdateInterval is positive.
func (s *System) Start() {
	if s.closed.Load() || !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Go(s.updater)
}

func (s *System) updater() {
	var tick <-chan time.Time
	if s.opts.UpdateInterval > 0 {
		ticker := time.NewTicker(s.opts.UpdateInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-s.stop:
			return
		case <-s.trigger:
		case <-tick:
		}
		s.Update()
	}
}

// Tick is the per-frame call of the owning goroutine. It runs Update unless
// the updater goroutine does, then drains the main-thread queue within the
// configured budget.
func (s *System) Tick() int {
	if !s.started.Load() {
		s.Update()
	}
	if s.pool.MainThread().Len() == 0 {
		return 0
	}
	return s.pool.MainThread().Drain(s.opts.MainThreadBudget)
}

func (s *System) underrun(b *Buffer) {
	s.underrunN.Add(1)
	s.metrics.RecordUnderrun()
	if s.underruns.Allow() {
		b.log.Warn("buffer underrun, voice blocked until decoding catches up")
	}
}

// Stats returns a snapshot of system counters.
func (s *System) Stats() Stats {
	return Stats{
		Buffers:   s.buffers.len(),
		Voices:    s.voices.len(),
		Virtual:   int(s.virtualN.Load()),
		Finished:  s.finished.len(),
		Underruns: s.underrunN.Load(),
	}
}

// Close destroys all voices and buffers and waits, bounded by ctx, for their
// in-flight reads to finish. The backend and the pool are left open.
func (s *System) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()

		for _, v := range s.voices.snapshot() {
			s.DestroyVoice(v)
		}
		for _, b := range s.buffers.snapshot() {
			s.DestroyBuffer(b)
		}
		s.closed.Store(true)

		for _, b := range s.finished.snapshot() {
			if werr := b.wait(ctx); werr != nil {
				err = errors.New(werr).
					Component(ComponentSound).
					Category(errors.CategoryTimeout).
					Context("operation", "close_system").
					Context("buffer", b.name).
					Build()
				return
			}
			if w := b.loader.Load(); w != nil {
				if werr := w.Wait(ctx); werr != nil {
					err = werr
					return
				}
			}
			b.releaseSource()
			s.finished.remove(b)
			s.release(b)
		}
		s.cache.Flush()
		s.log.Debug("sound system closed")
	})
	return err
}
