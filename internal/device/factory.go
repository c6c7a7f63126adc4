package device

import (
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// New opens the backend described by settings at the given format. With
// Virtual set it returns a realtime VirtualBackend, otherwise it opens the
// configured miniaudio device.
func New(settings *conf.DeviceSettings, format Format, m *metrics.PlaybackMetrics) (Backend, error) {
	if settings.Virtual {
		return NewVirtualBackend(VirtualOptions{
			Format:       format,
			PeriodFrames: settings.PeriodFrames,
			RingFrames:   settings.RingFrames,
			MaxVoices:    settings.MaxVoices,
			Realtime:     true,
			Metrics:      m,
		})
	}
	return NewMalgoBackend(MalgoOptions{
		Backend:      settings.Backend,
		Device:       settings.Name,
		Format:       format,
		PeriodFrames: settings.PeriodFrames,
		RingFrames:   settings.RingFrames,
		MaxVoices:    settings.MaxVoices,
		Metrics:      m,
	})
}
