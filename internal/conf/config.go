// config.go: settings struct for the streaming core and functions to load and save it.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// SchedulerSettings controls the worker pool.
type SchedulerSettings struct {
	Workers          int           // number of worker goroutines, 0 selects from detected CPU cores
	AgingInterval    time.Duration // how long a queued item waits before its priority is re-evaluated
	UpdateInterval   time.Duration // period of the priority update pass
	MainThreadBudget time.Duration // soft time budget for one main-thread queue drain
}

// StreamSettings controls packetizing and the time-synchronized packet queue.
type StreamSettings struct {
	PacketFrames     int     // frames per packet
	QueueCapacity    int     // packets in flight between decoder and device
	DropLate         bool    // drop packets whose end tick already passed
	MaxBuffers       int     // sound buffers alive at once
	Loop             bool    // loop streaming sources that support reset
	UnderrunLogRate  float64 // underrun warnings per second
	UnderrunLogBurst int     // underrun warning burst
}

// DeviceSettings controls the playback backend.
type DeviceSettings struct {
	Backend        string        // auto, alsa, pulse, jack, coreaudio, wasapi, null
	Name           string        // playback device name or ID, empty for the default
	Virtual        bool          // play through a clocked virtual device instead of a sound card
	PeriodFrames   int           // device callback period in frames
	RingFrames     int           // device-side ring buffer capacity in frames
	UpdateInterval time.Duration // fallback period of the update loop
	MaxVoices      int           // playback channels available to the system
	VirtualVoices  int           // voices allowed beyond MaxVoices, played silently on virtual timers
}

// CacheSettings controls the one-shot buffer cache.
type CacheSettings struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// MetricsSettings controls the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool
	Listen  string
	Pprof   bool // also serve /debug/pprof on the metrics listener
}

// SentrySettings controls opt-in error telemetry.
type SentrySettings struct {
	Enabled     bool
	DSN         string // may reference environment variables as ${VAR}
	DSNFile     string // file holding the DSN, preferred over DSN when set
	Debug       bool
	Environment string
}

// Settings is the full application configuration.
type Settings struct {
	Debug     bool
	Logging   logger.LoggingConfig
	Scheduler SchedulerSettings
	Stream    StreamSettings
	Device    DeviceSettings
	Cache     CacheSettings
	Metrics   MetricsSettings
	Sentry    SentrySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new Settings.
// An explicit configFile overrides the default search paths.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, env bindings and reads the configuration file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		// Invalid env values are reported but the defaults remain usable
		log.Warn("environment variable issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Context("operation", "read_config").
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the current defaults to dir/config.yaml and reads it back.
func createDefaultConfig(dir string) error {
	defaults := &Settings{}
	if err := viper.Unmarshal(defaults); err != nil {
		return fmt.Errorf("error building default settings: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := SaveYAMLConfig(configPath, defaults); err != nil {
		return err
	}

	log.Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the settings loaded by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// MarshalYAML renders settings as YAML.
func MarshalYAML(settings *Settings) ([]byte, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}

// SaveYAMLConfig writes settings to configPath through a temp file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := MarshalYAML(settings)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			FileContext(configPath, int64(len(yamlData))).
			Context("operation", "save_config").
			Build()
	}

	return nil
}
