package device

import (
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// VirtualBackend consumes samples without producing sound. Frames are pulled
// either by explicit Advance calls or, when started with a period, by a
// ticker goroutine that keeps pace with the wall clock.
type VirtualBackend struct {
	mixer  *mixer
	period int
	log    logger.Logger

	scratch []float32
	mu      sync.Mutex // serialises Advance with the ticker

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// VirtualOptions configures a VirtualBackend.
type VirtualOptions struct {
	Format       Format
	PeriodFrames int
	RingFrames   int
	MaxVoices    int
	// Realtime starts a goroutine that pulls PeriodFrames every period.
	Realtime bool
	Metrics  *metrics.PlaybackMetrics
}

// NewVirtualBackend creates a virtual backend.
func NewVirtualBackend(opts VirtualOptions) (*VirtualBackend, error) {
	if err := validateFormat(opts.Format); err != nil {
		return nil, err
	}
	if opts.PeriodFrames <= 0 || opts.RingFrames < opts.PeriodFrames {
		return nil, errors.Newf("invalid virtual device geometry: period %d, ring %d", opts.PeriodFrames, opts.RingFrames).
			Component(ComponentDevice).
			Category(errors.CategoryValidation).
			Build()
	}

	b := &VirtualBackend{
		mixer:   newMixer(opts.Format, opts.RingFrames, opts.MaxVoices, opts.Metrics),
		period:  opts.PeriodFrames,
		log:     GetLogger().With(logger.String("backend", "virtual")),
		scratch: make([]float32, opts.PeriodFrames*opts.Format.Channels),
		stop:    make(chan struct{}),
	}

	if opts.Realtime {
		interval := time.Duration(opts.PeriodFrames) * time.Second / time.Duration(opts.Format.SampleRate)
		b.wg.Go(func() { b.run(interval) })
	}
	return b, nil
}

func (b *VirtualBackend) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Advance(b.period)
		}
	}
}

// Advance pulls frames from every playing transport, one period at a time.
func (b *VirtualBackend) Advance(frames int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.mixer.format.Channels
	for frames > 0 {
		n := min(frames, b.period)
		b.mixer.mix(b.scratch[:n*ch])
		frames -= n
	}
}

func (b *VirtualBackend) Name() string {
	return "virtual"
}

func (b *VirtualBackend) Format() Format {
	return b.mixer.format
}

func (b *VirtualBackend) Open() (Transport, error) {
	t, err := b.mixer.open()
	if err != nil {
		return nil, err
	}
	b.log.Debug("transport opened", logger.Int("active", b.mixer.active()))
	return t, nil
}

// Active returns the number of open transports.
func (b *VirtualBackend) Active() int {
	return b.mixer.active()
}

func (b *VirtualBackend) Close() error {
	b.once.Do(func() {
		close(b.stop)
		b.wg.Wait()
		b.mixer.closeAll()
	})
	return nil
}

func validateFormat(f Format) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return errors.Newf("invalid device format: %d Hz, %d channels", f.SampleRate, f.Channels).
			Component(ComponentDevice).
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
