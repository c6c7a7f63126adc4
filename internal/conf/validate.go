// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/tphakala/audiostream/internal/errors"
)

const (
	maxWorkers      = 256
	maxPacketFrames = 1 << 20
	maxQueueDepth   = 1024
)

var knownBackends = []string{"auto", "alsa", "pulse", "jack", "coreaudio", "wasapi", "null"}

func isKnownBackend(name string) bool {
	return slices.Contains(knownBackends, strings.ToLower(name))
}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateSchedulerSettings(&settings.Scheduler)...)
	ve.Errors = append(ve.Errors, validateStreamSettings(&settings.Stream)...)
	ve.Errors = append(ve.Errors, validateDeviceSettings(&settings.Device)...)
	ve.Errors = append(ve.Errors, validateMetricsSettings(&settings.Metrics)...)

	// The device ring must hold a full packet queue, otherwise the sink rejects
	// packets the queue has room for.
	if look := settings.Stream.QueueCapacity * settings.Stream.PacketFrames; look > 0 && settings.Device.RingFrames < look {
		ve.Errors = append(ve.Errors, fmt.Sprintf("device.ringframes (%d) must hold stream.queuecapacity × stream.packetframes (%d)", settings.Device.RingFrames, look))
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" && settings.Sentry.DSNFile == "" {
		ve.Errors = append(ve.Errors, "sentry is enabled but no DSN is configured")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}

	return nil
}

func validateSchedulerSettings(s *SchedulerSettings) []string {
	var errs []string
	if s.Workers < 0 || s.Workers > maxWorkers {
		errs = append(errs, fmt.Sprintf("scheduler.workers must be between 0 and %d", maxWorkers))
	}
	if s.AgingInterval <= 0 {
		errs = append(errs, "scheduler.aginginterval must be positive")
	}
	if s.UpdateInterval <= 0 {
		errs = append(errs, "scheduler.updateinterval must be positive")
	}
	if s.MainThreadBudget < 0 {
		errs = append(errs, "scheduler.mainthreadbudget cannot be negative")
	}
	return errs
}

func validateStreamSettings(s *StreamSettings) []string {
	var errs []string
	if s.PacketFrames <= 0 || s.PacketFrames > maxPacketFrames {
		errs = append(errs, fmt.Sprintf("stream.packetframes must be between 1 and %d", maxPacketFrames))
	}
	if s.QueueCapacity <= 0 || s.QueueCapacity > maxQueueDepth {
		errs = append(errs, fmt.Sprintf("stream.queuecapacity must be between 1 and %d", maxQueueDepth))
	}
	if s.MaxBuffers <= 0 {
		errs = append(errs, "stream.maxbuffers must be positive")
	}
	if s.UnderrunLogRate < 0 {
		errs = append(errs, "stream.underrunlograte cannot be negative")
	}
	if s.UnderrunLogBurst < 0 {
		errs = append(errs, "stream.underrunlogburst cannot be negative")
	}
	return errs
}

func validateDeviceSettings(s *DeviceSettings) []string {
	var errs []string
	if !isKnownBackend(s.Backend) {
		errs = append(errs, fmt.Sprintf("device.backend %q is not one of %s", s.Backend, strings.Join(knownBackends, ", ")))
	}
	if s.PeriodFrames <= 0 {
		errs = append(errs, "device.periodframes must be positive")
	}
	if s.RingFrames < s.PeriodFrames {
		errs = append(errs, "device.ringframes must be at least device.periodframes")
	}
	if s.UpdateInterval <= 0 {
		errs = append(errs, "device.updateinterval must be positive")
	}
	if s.MaxVoices <= 0 {
		errs = append(errs, "device.maxvoices must be positive")
	}
	if s.VirtualVoices < 0 {
		errs = append(errs, "device.virtualvoices cannot be negative")
	}
	return errs
}

func validateMetricsSettings(s *MetricsSettings) []string {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return []string{fmt.Sprintf("metrics.listen %q is not a host:port address", s.Listen)}
	}
	return nil
}
