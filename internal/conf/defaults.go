// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with components that are constructed without settings
const (
	DefaultPacketFrames   = 4096
	DefaultQueueCapacity  = 4
	DefaultMaxVoices      = 32
	DefaultVirtualVoices  = 32
	DefaultMaxBuffers     = 256
	DefaultPeriodFrames   = 512
	DefaultRingFrames     = 16384
	DefaultUpdateInterval = 10 * time.Millisecond
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/audiostream.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("scheduler.workers", 0)
	viper.SetDefault("scheduler.aginginterval", 50*time.Millisecond)
	viper.SetDefault("scheduler.updateinterval", 20*time.Millisecond)
	viper.SetDefault("scheduler.mainthreadbudget", 2*time.Millisecond)

	viper.SetDefault("stream.packetframes", DefaultPacketFrames)
	viper.SetDefault("stream.queuecapacity", DefaultQueueCapacity)
	viper.SetDefault("stream.droplate", true)
	viper.SetDefault("stream.maxbuffers", DefaultMaxBuffers)
	viper.SetDefault("stream.loop", false)
	viper.SetDefault("stream.underrunlograte", 1.0)
	viper.SetDefault("stream.underrunlogburst", 3)

	viper.SetDefault("device.backend", "auto")
	viper.SetDefault("device.name", "")
	viper.SetDefault("device.virtual", false)
	viper.SetDefault("device.periodframes", DefaultPeriodFrames)
	viper.SetDefault("device.ringframes", DefaultRingFrames)
	viper.SetDefault("device.updateinterval", DefaultUpdateInterval)
	viper.SetDefault("device.maxvoices", DefaultMaxVoices)
	viper.SetDefault("device.virtualvoices", DefaultVirtualVoices)

	viper.SetDefault("cache.ttl", 5*time.Minute)
	viper.SetDefault("cache.cleanupinterval", 10*time.Minute)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9090")
	viper.SetDefault("metrics.pprof", false)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.dsnfile", "")
	viper.SetDefault("sentry.debug", false)
	viper.SetDefault("sentry.environment", "production")
}
