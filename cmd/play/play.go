package play

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/decode"
	"github.com/tphakala/audiostream/internal/device"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/sound"
)

const (
	progressInterval = time.Second
	closeTimeout     = 5 * time.Second
)

type options struct {
	seek   float64
	static bool
}

// Command plays an audio file through the sound system.
func Command(rt *app.Runtime) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "play [file.wav|file.flac]",
		Short: "Play an audio file through the streaming engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), rt, args[0], opts)
		},
	}

	cmd.Flags().Bool("virtual", false, "Play on a clocked virtual device instead of a sound card")
	cmd.Flags().Bool("loop", false, "Loop the file until interrupted")
	cmd.Flags().String("backend", "", "Audio backend: auto, alsa, pulse, jack, coreaudio, wasapi, null")
	cmd.Flags().String("device", "", "Playback device name or ID")
	cmd.Flags().Float64Var(&opts.seek, "seek", 0, "Start position in seconds")
	cmd.Flags().BoolVar(&opts.static, "static", false, "Decode the whole file before playing instead of streaming")

	return cmd
}

func run(ctx context.Context, rt *app.Runtime, path string, opts options) error {
	settings := rt.Settings
	log := logger.Global().Module("play").With(logger.String("file", path))

	src, err := decode.Open(path)
	if err != nil {
		if errors.IsNotFound(err) {
			log.Error("audio file not found")
		}
		return err
	}
	format := src.Format()

	backend, err := device.New(&settings.Device,
		device.Format{SampleRate: format.SampleRate, Channels: format.Channels},
		rt.Metrics.Playback)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("closing device failed", logger.Error(err))
		}
	}()

	pool, err := rt.NewPool()
	if err != nil {
		_ = src.Close()
		return err
	}
	defer func() { _ = pool.Close() }()

	sysOpts := sound.OptionsFromSettings(settings)
	sysOpts.Metrics = rt.Metrics.Playback
	sysOpts.StreamMetrics = rt.Metrics.Stream
	sys, err := sound.NewSystem(pool, backend, sysOpts)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sys.Close(closeCtx); err != nil {
			log.Warn("closing sound system failed", logger.Error(err))
		}
	}()

	kind := sound.Streaming
	if opts.static {
		kind = sound.Static
	}
	buf, ok := sys.CreateBuffer(src, path, kind)
	if !ok {
		_ = src.Close()
		return sound.ErrNoBuffer
	}
	buf.SetLoop(settings.Stream.Loop)

	voice, ok := sys.CreateVoice(buf)
	if !ok {
		return errors.Newf("no voice available for %s", path).
			Component("play").
			Category(errors.CategoryResource).
			Build()
	}
	if opts.seek > 0 {
		if err := voice.SeekFrame(int64(opts.seek * float64(format.SampleRate))); err != nil {
			return err
		}
	}
	if err := voice.Play(); err != nil {
		return err
	}

	log.Info("playback started",
		logger.String("backend", backend.Name()),
		logger.Int("sample_rate", format.SampleRate),
		logger.Int("channels", format.Channels),
		logger.Bool("virtual", voice.Virtual()),
		logger.String("kind", kind.String()))

	return drive(ctx, sys, buf, voice, settings.Device.UpdateInterval, log)
}

// drive ticks the system from this goroutine until the voice stops on its own,
// the buffer fails to load or ctx is cancelled.
func drive(ctx context.Context, sys *sound.System, buf *sound.Buffer, voice *sound.Voice, interval time.Duration, log logger.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastProgress := time.Now()
	rate := float64(buf.Format().SampleRate)

	for {
		select {
		case <-ctx.Done():
			log.Info("playback interrupted", logger.Float64("position_s", float64(voice.Tell())/rate))
			return nil
		case <-ticker.C:
		}

		sys.Tick()

		if buf.Status() == sound.BufferNull {
			if err := buf.Err(); err != nil {
				return err
			}
		}
		if voice.Status() == sound.VoiceStopped {
			stats := sys.Stats()
			log.Info("playback finished",
				logger.Float64("position_s", float64(voice.Tell())/rate),
				logger.Uint64("underruns", stats.Underruns))
			return nil
		}

		if time.Since(lastProgress) >= progressInterval {
			lastProgress = time.Now()
			stats := sys.Stats()
			log.Info("playback progress",
				logger.Float64("position_s", float64(voice.Tell())/rate),
				logger.String("voice", voice.Status().String()),
				logger.String("buffer", buf.Status().String()),
				logger.Uint64("underruns", stats.Underruns))
		}
	}
}
