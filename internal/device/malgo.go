package device

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// MalgoOptions configures a MalgoBackend.
type MalgoOptions struct {
	Backend      string // auto, alsa, pulse, jack, coreaudio, wasapi, null
	Device       string // empty selects the default playback device
	Format       Format
	PeriodFrames int
	RingFrames   int
	MaxVoices    int
	Metrics      *metrics.PlaybackMetrics
}

// MalgoBackend plays the mix of all open transports through miniaudio.
type MalgoBackend struct {
	name   string
	mixer  *mixer
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	log    logger.Logger

	mix  []float32 // device-callback scratch
	once sync.Once
}

// getBackendForPlatform maps a configured backend name to miniaudio backends.
// "auto" picks the platform default.
func getBackendForPlatform(name string) []malgo.Backend {
	switch strings.ToLower(name) {
	case "alsa":
		return []malgo.Backend{malgo.BackendAlsa}
	case "pulse":
		return []malgo.Backend{malgo.BackendPulseaudio}
	case "jack":
		return []malgo.Backend{malgo.BackendJack}
	case "coreaudio":
		return []malgo.Backend{malgo.BackendCoreaudio}
	case "wasapi":
		return []malgo.Backend{malgo.BackendWasapi}
	case "null":
		return []malgo.Backend{malgo.BackendNull}
	}

	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa, malgo.BackendPulseaudio}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	}
	return nil
}

func initContext(backend string, log logger.Logger) (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(getBackendForPlatform(backend), malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentDevice).
			Category(errors.CategoryDevice).
			Context("operation", "init_context").
			Context("backend", backend).
			Build()
	}
	return ctx, nil
}

// NewMalgoBackend initialises the playback device and starts it. The device
// plays silence until a transport is opened and started.
func NewMalgoBackend(opts MalgoOptions) (*MalgoBackend, error) {
	if err := validateFormat(opts.Format); err != nil {
		return nil, err
	}

	log := GetLogger().With(logger.String("backend", opts.Backend))
	ctx, err := initContext(opts.Backend, log)
	if err != nil {
		return nil, err
	}

	b := &MalgoBackend{
		name:  "malgo/" + strings.ToLower(opts.Backend),
		mixer: newMixer(opts.Format, opts.RingFrames, opts.MaxVoices, opts.Metrics),
		ctx:   ctx,
		log:   log,
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(opts.Format.Channels)
	cfg.SampleRate = uint32(opts.Format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(opts.PeriodFrames)
	cfg.Alsa.NoMMap = 1

	if opts.Device != "" {
		info, err := SelectDevice(ctx, opts.Device)
		if err != nil {
			b.release()
			return nil, err
		}
		cfg.Playback.DeviceID = info.ID.Pointer()
		log.Info("selected playback device", logger.String("device", info.Name()))
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: b.onSendFrames})
	if err != nil {
		b.release()
		return nil, errors.New(err).
			Component(ComponentDevice).
			Category(errors.CategoryDevice).
			Context("operation", "init_device").
			Context("sample_rate", opts.Format.SampleRate).
			Context("channels", opts.Format.Channels).
			Build()
	}
	b.device = device

	if err := device.Start(); err != nil {
		b.release()
		return nil, errors.New(err).
			Component(ComponentDevice).
			Category(errors.CategoryDevice).
			Context("operation", "start_device").
			Build()
	}

	log.Info("playback device started",
		logger.Int("sample_rate", opts.Format.SampleRate),
		logger.Int("channels", opts.Format.Channels),
		logger.Int("period_frames", opts.PeriodFrames))
	return b, nil
}

// onSendFrames runs on the miniaudio thread. It mixes into float32 scratch
// and encodes into the little-endian output buffer.
func (b *MalgoBackend) onSendFrames(pOutput, _ []byte, frameCount uint32) {
	n := int(frameCount) * b.mixer.format.Channels
	if cap(b.mix) < n {
		b.mix = make([]float32, n)
	}
	out := b.mix[:n]
	b.mixer.mix(out)
	for i, v := range out {
		binary.LittleEndian.PutUint32(pOutput[i*bytesPerSample:], math.Float32bits(v))
	}
}

func (b *MalgoBackend) Name() string {
	return b.name
}

func (b *MalgoBackend) Format() Format {
	return b.mixer.format
}

func (b *MalgoBackend) Open() (Transport, error) {
	return b.mixer.open()
}

func (b *MalgoBackend) Close() error {
	b.once.Do(func() {
		b.mixer.closeAll()
		b.release()
		b.log.Info("playback device closed")
	})
	return nil
}

func (b *MalgoBackend) release() {
	if b.device != nil {
		_ = b.device.Stop()
		b.device.Uninit()
	}
	if b.ctx != nil {
		_ = b.ctx.Uninit()
		b.ctx.Free()
	}
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// decodeDeviceID returns the printable form of a miniaudio device ID. Backends
// such as ALSA store the hardware name as hex-encoded text.
func decodeDeviceID(info malgo.DeviceInfo) string {
	id, err := hexToASCII(info.ID.String())
	if err != nil {
		return info.ID.String()
	}
	return strings.TrimRight(id, "\x00")
}

// matchesDevice reports whether a device matches the configured name, either
// by decoded ID or by a substring of the device name.
func matchesDevice(info malgo.DeviceInfo, want string) bool {
	if want == "default" || want == "sysdefault" {
		return info.IsDefault == 1
	}
	return decodeDeviceID(info) == want || strings.Contains(info.Name(), want)
}

// SelectDevice finds the playback device matching name.
func SelectDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return malgo.DeviceInfo{}, errors.New(err).
			Component(ComponentDevice).
			Category(errors.CategoryDevice).
			Context("operation", "enumerate_devices").
			Build()
	}
	for i := range infos {
		if matchesDevice(infos[i], name) {
			return infos[i], nil
		}
	}
	return malgo.DeviceInfo{}, errors.Newf("playback device %q not found", name).
		Component(ComponentDevice).
		Category(errors.CategoryNotFound).
		Context("available", len(infos)).
		Build()
}

// ListDevices enumerates playback devices on the configured backend.
func ListDevices(backend string) ([]Info, error) {
	log := GetLogger().With(logger.String("backend", backend))
	ctx, err := initContext(backend, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentDevice).
			Category(errors.CategoryDevice).
			Context("operation", "enumerate_devices").
			Build()
	}

	devices := make([]Info, 0, len(infos))
	for i := range infos {
		devices = append(devices, Info{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodeDeviceID(infos[i]),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}
