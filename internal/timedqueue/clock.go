package timedqueue

import (
	"sync/atomic"
	"time"
)

// Clock reports the consumer's playback position in ticks.
type Clock interface {
	Position() int64
}

// ClockFunc adapts a function, typically a device transport's Tell, to Clock.
type ClockFunc func() int64

// Position implements Clock.
func (f ClockFunc) Position() int64 { return f() }

// ManualClock is a clock advanced explicitly by its owner. Tests and virtual
// playback use it.
type ManualClock struct {
	pos atomic.Int64
}

// NewManualClock returns a clock positioned at start.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.pos.Store(start)
	return c
}

// Position implements Clock.
func (c *ManualClock) Position() int64 { return c.pos.Load() }

// Set moves the clock to pos.
func (c *ManualClock) Set(pos int64) { c.pos.Store(pos) }

// Advance moves the clock forward by d ticks and returns the new position.
func (c *ManualClock) Advance(d int64) int64 { return c.pos.Add(d) }

// WallClock derives ticks from elapsed wall time at a fixed tick rate, for
// example the sample rate of a stream.
type WallClock struct {
	rate   int64
	origin atomic.Int64 // tick position at base
	base   atomic.Int64 // unix nanoseconds the origin applies from
	now    func() time.Time
}

// NewWallClock returns a clock ticking rate times per second from zero.
func NewWallClock(rate int) *WallClock {
	c := &WallClock{rate: int64(rate), now: time.Now}
	c.base.Store(c.now().UnixNano())
	return c
}

// Position implements Clock.
func (c *WallClock) Position() int64 {
	elapsed := c.now().UnixNano() - c.base.Load()
	return c.origin.Load() + elapsed*c.rate/int64(time.Second)
}

// Reset restarts the clock at pos.
func (c *WallClock) Reset(pos int64) {
	c.base.Store(c.now().UnixNano())
	c.origin.Store(pos)
}

// Rate returns ticks per second.
func (c *WallClock) Rate() int { return int(c.rate) }
