// Package device provides playback transports: the five-operation channel a
// voice drives (play, pause, stop, seek, tell) plus a sample sink. Backends
// mix all open transports into one output. The malgo backend drives a real
// sound card; the virtual backend consumes samples on a clock so playback
// state stays correct without audible output.
package device

import (
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// ComponentDevice is the error component name used by this package.
const ComponentDevice = "device"

// Common errors that can be returned by backends and transports
var (
	ErrNoChannel = errors.New(errors.NewStd("no playback channel available")).Component(ComponentDevice).Category(errors.CategoryResource).Build()
	ErrRingFull  = errors.New(errors.NewStd("transport ring buffer is full")).Component(ComponentDevice).Category(errors.CategoryLimit).Build()
	ErrClosed    = errors.New(errors.NewStd("transport is closed")).Component(ComponentDevice).Category(errors.CategoryState).Build()
)

// Status is the playback state of a transport
type Status int32

const (
	// StatusStopped indicates the transport is not consuming samples and has no position to resume from
	StatusStopped Status = iota
	// StatusPaused indicates the transport is not consuming samples but keeps its queued data
	StatusPaused
	// StatusPlaying indicates the transport is consuming samples
	StatusPlaying
	// StatusClosed indicates the transport has been released
	StatusClosed
)

// String returns a string representation of the status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusPaused:
		return "paused"
	case StatusPlaying:
		return "playing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Format is the sample layout a backend runs at.
type Format struct {
	SampleRate int
	Channels   int
}

// Transport is one playback channel.
type Transport interface {
	Play() error
	Pause() error
	Stop() error
	// SeekFrame discards queued samples and sets the position to frame.
	SeekFrame(frame int64) error
	// Tell returns the frame position of the next sample the device will consume.
	Tell() int64
	Status() Status
	// Write queues interleaved samples. It fails with ErrRingFull rather than
	// block when the samples do not fit.
	Write(samples []float32) error
	// Queued returns the number of frames written but not yet consumed.
	Queued() int
	Close() error
}

// Backend allocates transports on one output device.
type Backend interface {
	Name() string
	Format() Format
	// Open allocates a transport. It fails with ErrNoChannel when every
	// channel is in use.
	Open() (Transport, error)
	Close() error
}

// Info describes a playback device.
type Info struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// GetLogger returns the device logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("device")
}
