package decode

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/packetizer"
)

// FLACSource decodes a FLAC file frame by frame.
type FLACSource struct {
	path    string
	file    *os.File
	decoder *flac.Decoder
	format  Format
	frames  int64
	divisor float32
	pending []float32 // decoded samples not yet handed out
	pos     int64
	eof     bool
}

// OpenFLAC opens a FLAC file for streaming.
func OpenFLAC(path string) (*FLACSource, error) {
	s := &FLACSource{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FLACSource) open() error {
	file, size, err := openFile(s.path)
	if err != nil {
		return err
	}

	decoder, err := flac.NewDecoder(file)
	if err != nil {
		_ = file.Close()
		return errors.New(err).
			Component(ComponentDecode).
			Category(errors.CategoryDecode).
			Context("operation", "open_flac_stream").
			FileContext(s.path, size).
			Build()
	}

	divisor, err := getAudioDivisor(decoder.BitsPerSample)
	if err != nil {
		_ = file.Close()
		return err
	}

	s.file = file
	s.decoder = decoder
	s.divisor = divisor
	s.format = Format{
		SampleRate: decoder.SampleRate,
		Channels:   decoder.NChannels,
		BitDepth:   decoder.BitsPerSample,
	}
	s.frames = int64(decoder.TotalSamples)
	if s.frames == 0 {
		s.frames = -1
	}
	s.pending = s.pending[:0]
	s.pos = 0
	s.eof = false
	return nil
}

// Read implements packetizer.Source.
func (s *FLACSource) Read(dst []float32) (int, error) {
	want := len(dst) - len(dst)%s.format.Channels
	filled := 0
	for filled < want {
		if len(s.pending) == 0 {
			if s.eof {
				break
			}
			if err := s.decodeFrame(); err != nil {
				return filled, err
			}
			continue
		}
		n := copy(dst[filled:want], s.pending)
		s.pending = s.pending[n:]
		filled += n
	}
	s.pos += int64(filled / s.format.Channels)

	if filled == 0 && s.eof {
		return 0, io.EOF
	}
	return filled, nil
}

func (s *FLACSource) decodeFrame() error {
	frame, err := s.decoder.Next()
	if errors.Is(err, io.EOF) {
		s.eof = true
		return nil
	}
	if err != nil {
		return errors.New(err).
			Component(ComponentDecode).
			Category(errors.CategoryDecode).
			Context("operation", "decode_flac_frame").
			Context("path", s.path).
			Build()
	}
	s.pending = appendPCM(s.pending[:0], frame, s.format.BitDepth, s.divisor)
	return nil
}

// appendPCM converts little-endian interleaved integer PCM to float32.
func appendPCM(dst []float32, pcm []byte, bitDepth int, divisor float32) []float32 {
	step := bitDepth / 8
	for i := 0; i+step <= len(pcm); i += step {
		var sample int32
		switch bitDepth {
		case 16:
			sample = int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		case 24:
			sample = int32(pcm[i]) | int32(pcm[i+1])<<8 | int32(pcm[i+2])<<16
			sample = sample << 8 >> 8 // sign extend
		case 32:
			sample = int32(binary.LittleEndian.Uint32(pcm[i:]))
		}
		dst = append(dst, float32(sample)/divisor)
	}
	return dst
}

// Reset rewinds to the first frame by reopening the file.
func (s *FLACSource) Reset() error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.open()
}

// Position returns the current frame.
func (s *FLACSource) Position() int64 { return s.pos }

// SetPosition moves to frame. Positions past the end leave the source at its end.
func (s *FLACSource) SetPosition(frame int64) error {
	frame = max(0, frame)
	if s.frames >= 0 {
		frame = min(frame, s.frames)
	}
	if frame < s.pos {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	_, err := skipFrames(s, frame-s.pos, s.format.Channels)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Clone opens an independent source on the same file.
func (s *FLACSource) Clone() (packetizer.Source, error) {
	return OpenFLAC(s.path)
}

// Format implements Source.
func (s *FLACSource) Format() Format { return s.format }

// Frames implements Source. It is -1 when the stream header carries no length.
func (s *FLACSource) Frames() int64 { return s.frames }

// Close implements Source.
func (s *FLACSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
