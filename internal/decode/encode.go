package decode

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/audiostream/internal/errors"
)

// WriteWAV encodes interleaved float32 samples as PCM WAV at the given bit depth.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate, channels, bitDepth int) error {
	divisor, err := getAudioDivisor(bitDepth)
	if err != nil {
		return err
	}
	peak := float64(divisor) - 1

	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(math.Max(-peak-1, math.Min(peak, math.Round(float64(v)*float64(divisor)))))
	}

	enc := wav.NewEncoder(w, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).
			Component(ComponentDecode).
			Category(errors.CategoryFileIO).
			Context("operation", "write_wav").
			Build()
	}
	return enc.Close()
}

// SaveWAV writes samples to a WAV file at path, creating parent directories.
func SaveWAV(path string, samples []float32, sampleRate, channels, bitDepth int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component(ComponentDecode).
			Category(errors.CategoryFileIO).
			Context("operation", "create_output_dir").
			Context("path", path).
			Build()
	}

	out, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component(ComponentDecode).
			Category(errors.CategoryFileIO).
			Context("operation", "create_wav").
			Context("path", path).
			Build()
	}
	if err := WriteWAV(out, samples, sampleRate, channels, bitDepth); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
