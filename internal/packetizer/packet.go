package packetizer

import (
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/lockfree"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// ComponentPacketizer is the error component name used by this package.
const ComponentPacketizer = "packetizer"

// Packet is a fixed-capacity chunk of interleaved samples read from a source.
type Packet struct {
	Index    uint64 // position in the stream's packet sequence
	IsLast   bool   // the source ended inside this packet
	Looped   bool   // the source was rewound while filling this packet
	Channels int
	Samples  []float32 // always full length; samples past Valid are zero
	Valid    int       // samples actually read from the source
}

// Frames returns the packet capacity in frames.
func (p *Packet) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// ValidFrames returns the number of frames read from the source.
func (p *Packet) ValidFrames() int {
	if p.Channels == 0 {
		return 0
	}
	return p.Valid / p.Channels
}

// PacketRef is a counted reference to a pooled packet. Whoever holds one must
// Release it.
type PacketRef = lockfree.Handle[Packet]

// PacketPool recycles packets of one size through a lock-free free list.
// Sample slices survive recycling, so steady-state streaming does not allocate.
type PacketPool struct {
	pool     *lockfree.Pool[Packet]
	frames   int
	channels int
	metrics  *metrics.StreamMetrics
}

// NewPacketPool creates a pool of packets holding frames×channels samples.
// A positive limit caps the number of packets alive at once.
func NewPacketPool(frames, channels, limit int, m *metrics.StreamMetrics) (*PacketPool, error) {
	if frames <= 0 || channels <= 0 {
		return nil, errors.Newf("invalid packet size: %d frames, %d channels", frames, channels).
			Component(ComponentPacketizer).
			Category(errors.CategoryValidation).
			Context("operation", "create_packet_pool").
			Context("frames", frames).
			Context("channels", channels).
			Build()
	}

	pp := &PacketPool{frames: frames, channels: channels, metrics: m}
	opts := []lockfree.PoolOption[Packet]{
		lockfree.WithReset(func(p *Packet) {
			p.Index = 0
			p.IsLast = false
			p.Looped = false
			p.Valid = 0
		}),
	}
	if limit > 0 {
		opts = append(opts, lockfree.WithLimit[Packet](limit))
	}
	pp.pool = lockfree.NewPool(opts...)
	return pp, nil
}

// Get allocates a packet. It returns false when the pool limit is reached.
func (pp *PacketPool) Get() (PacketRef, bool) {
	h, ok := pp.pool.Alloc()
	if !ok {
		return h, false
	}

	p := h.Value()
	if p.Samples == nil {
		p.Samples = make([]float32, pp.frames*pp.channels)
		p.Channels = pp.channels
		pp.metrics.RecordPoolAlloc(metrics.SourceFresh)
	} else {
		pp.metrics.RecordPoolAlloc(metrics.SourceReused)
	}
	pp.metrics.SetPoolInUse(pp.pool.Stats().InUse)
	return h, true
}

// Frames returns the packet capacity in frames.
func (pp *PacketPool) Frames() int { return pp.frames }

// Channels returns the channel count of pooled packets.
func (pp *PacketPool) Channels() int { return pp.channels }

// Stats returns the underlying pool counters.
func (pp *PacketPool) Stats() lockfree.PoolStats {
	return pp.pool.Stats()
}

// newCell returns an empty cell for packets from this pool.
func (pp *PacketPool) newCell() *lockfree.Cell[Packet] {
	return lockfree.NewCell(pp.pool)
}
