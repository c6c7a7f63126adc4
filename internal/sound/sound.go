// Package sound binds decoded sample data to playback channels. A Buffer owns
// a sample source and its asynchronous decode pipeline; a Voice plays one
// buffer through a device transport, or silently on a virtual timer when no
// channel is free. The System owns both and drives them from its update loop.
package sound

import (
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// ComponentSound is the error component name used by this package.
const ComponentSound = "sound"

// Common errors that can be returned by the sound system
var (
	ErrNoBuffer     = errors.New(errors.NewStd("no sound buffer available")).Component(ComponentSound).Category(errors.CategoryResource).Build()
	ErrSystemClosed = errors.New(errors.NewStd("sound system has been closed")).Component(ComponentSound).Category(errors.CategoryState).Build()
	ErrDestroyed    = errors.New(errors.NewStd("sound object has been destroyed")).Component(ComponentSound).Category(errors.CategoryState).Build()
)

// BufferStatus is the lifecycle state of a Buffer
type BufferStatus int32

const (
	// BufferNull indicates the buffer has not been loaded, or its load failed
	BufferNull BufferStatus = iota
	// BufferLoading indicates decoding has started but no data is available yet
	BufferLoading
	// BufferReady indicates decoded data is available
	BufferReady
	// BufferBlocked indicates a streaming buffer ran dry before its source ended
	BufferBlocked
	// BufferAtEnd indicates a streaming buffer has delivered its final packet
	BufferAtEnd
)

// String returns a string representation of the buffer status
func (s BufferStatus) String() string {
	switch s {
	case BufferNull:
		return "null"
	case BufferLoading:
		return "loading"
	case BufferReady:
		return "ready"
	case BufferBlocked:
		return "blocked"
	case BufferAtEnd:
		return "at_end"
	default:
		return "unknown"
	}
}

// VoiceStatus is the playback state of a Voice
type VoiceStatus int32

const (
	// VoiceNull indicates the voice has been destroyed
	VoiceNull VoiceStatus = iota
	// VoiceStopped indicates the voice is idle and rewinds on the next Play
	VoiceStopped
	// VoicePaused indicates the voice holds its position
	VoicePaused
	// VoicePlaying indicates the voice is consuming samples
	VoicePlaying
	// VoiceBlocked indicates the voice wants to play but its buffer has no data
	VoiceBlocked
	// VoiceTransition is held by the goroutine performing a multi-step change
	VoiceTransition
)

// String returns a string representation of the voice status
func (s VoiceStatus) String() string {
	switch s {
	case VoiceNull:
		return "null"
	case VoiceStopped:
		return "stopped"
	case VoicePaused:
		return "paused"
	case VoicePlaying:
		return "playing"
	case VoiceBlocked:
		return "blocked"
	case VoiceTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// Kind selects how a buffer holds its samples.
type Kind int

const (
	// Streaming buffers decode packets on demand through a packetizer stream.
	Streaming Kind = iota
	// Static buffers decode the whole source once and may be shared by voices.
	Static
)

// String returns a string representation of the kind
func (k Kind) String() string {
	if k == Static {
		return "static"
	}
	return "streaming"
}

// GetLogger returns the sound logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("sound")
}
