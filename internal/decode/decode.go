// Package decode provides sample sources for streaming buffers: WAV and FLAC
// file decoders, an in-memory PCM source and a tone generator. Every source
// yields interleaved float32 samples in [-1, 1] and supports rewinding,
// frame positioning and cloning.
package decode

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/packetizer"
)

// ComponentDecode is the error component name used by this package.
const ComponentDecode = "decode"

// Format describes the sample layout of a source.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int // bits per sample in the encoded stream; 32 for float sources
}

// Source is a seekable, cloneable, resettable sample stream.
type Source interface {
	packetizer.Source
	packetizer.Resetter
	packetizer.Seeker
	packetizer.Cloner

	// Format returns the stream layout.
	Format() Format
	// Frames returns the total length in frames, or -1 when unbounded.
	Frames() int64
	// Close releases the underlying file, if any.
	Close() error
}

// GetLogger returns the decode logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("decode")
}

// Open opens an audio file, picking the decoder from the file extension.
func Open(path string) (Source, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		return OpenWAV(path)
	case ".flac":
		return OpenFLAC(path)
	default:
		return nil, errors.Newf("unsupported audio file type: %s", ext).
			Component(ComponentDecode).
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
}

// getAudioDivisor returns the value that scales integer PCM of the given bit
// depth into [-1, 1].
func getAudioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, errors.Newf("unsupported audio bit depth: %d", bitDepth).
			Component(ComponentDecode).
			Category(errors.CategoryValidation).
			Context("bit_depth", bitDepth).
			Build()
	}
}

func openFile(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.FileError(ComponentDecode, "open_audio_file", err, path, 0)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, errors.FileError(ComponentDecode, "stat_audio_file", err, path, 0)
	}
	return file, info.Size(), nil
}

// skipFrames reads and discards frames from src. It is how file sources seek,
// since neither container gives random access into compressed or chunked data.
func skipFrames(src packetizer.Source, frames int64, channels int) (int64, error) {
	scratch := make([]float32, 4096*channels)
	skipped := int64(0)
	for skipped < frames {
		want := min(int64(len(scratch)/channels), frames-skipped)
		n, err := src.Read(scratch[:want*int64(channels)])
		skipped += int64(n / channels)
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
