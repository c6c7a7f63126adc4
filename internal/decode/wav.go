package decode

import (
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/packetizer"
)

// WAVSource decodes a PCM WAV file.
type WAVSource struct {
	path    string
	file    *os.File
	decoder *wav.Decoder
	format  Format
	frames  int64
	divisor float32
	buf     *audio.IntBuffer
	pos     int64 // frames read since the start
	eof     bool
}

// OpenWAV opens a WAV file for streaming.
func OpenWAV(path string) (*WAVSource, error) {
	s := &WAVSource{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WAVSource) open() error {
	file, size, err := openFile(s.path)
	if err != nil {
		return err
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		_ = file.Close()
		return errors.Newf("input is not a valid WAV audio file").
			Component(ComponentDecode).
			Category(errors.CategoryDecode).
			FileContext(s.path, size).
			Build()
	}

	divisor, err := getAudioDivisor(int(decoder.BitDepth))
	if err != nil {
		_ = file.Close()
		return err
	}
	if decoder.NumChans == 0 {
		_ = file.Close()
		return errors.Newf("WAV file declares no channels").
			Component(ComponentDecode).
			Category(errors.CategoryDecode).
			FileContext(s.path, size).
			Build()
	}
	if err := decoder.FwdToPCM(); err != nil {
		_ = file.Close()
		return errors.New(err).
			Component(ComponentDecode).
			Category(errors.CategoryDecode).
			Context("operation", "seek_pcm_chunk").
			FileContext(s.path, size).
			Build()
	}

	s.file = file
	s.decoder = decoder
	s.divisor = divisor
	s.format = Format{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	bytesPerFrame := int64(decoder.BitDepth/8) * int64(decoder.NumChans)
	s.frames = decoder.PCMLen() / bytesPerFrame
	s.buf = &audio.IntBuffer{
		Format: &audio.Format{SampleRate: s.format.SampleRate, NumChannels: s.format.Channels},
	}
	s.pos = 0
	s.eof = false
	return nil
}

// Read implements packetizer.Source. dst should hold whole frames.
func (s *WAVSource) Read(dst []float32) (int, error) {
	if s.eof {
		return 0, io.EOF
	}
	want := len(dst) - len(dst)%s.format.Channels
	if want == 0 {
		return 0, nil
	}
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	for i, v := range s.buf.Data[:n] {
		dst[i] = float32(v) / s.divisor
	}
	s.pos += int64(n / s.format.Channels)

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, errors.New(err).
			Component(ComponentDecode).
			Category(errors.CategoryDecode).
			Context("operation", "read_wav_pcm").
			Context("path", s.path).
			Build()
	}
	if n == 0 || err != nil {
		s.eof = true
		return n, io.EOF
	}
	return n, nil
}

// Reset rewinds to the first frame by reopening the file.
func (s *WAVSource) Reset() error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.open()
}

// Position returns the current frame.
func (s *WAVSource) Position() int64 { return s.pos }

// SetPosition moves to frame, clamped to the stream length.
func (s *WAVSource) SetPosition(frame int64) error {
	frame = max(0, min(frame, s.frames))
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
func (s *WAVSource) Clone() (packetizer.Source, error) {
	return OpenWAV(s.path)
}

// Format implements Source.
func (s *WAVSource) Format() Format { return s.format }

// Frames implements Source.
func (s *WAVSource) Frames() int64 { return s.frames }

// Close implements Source.
func (s *WAVSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
