package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsFromEmptyFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	settings, err := Load(writeConfig(t, "debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPacketFrames, settings.Stream.PacketFrames)
	assert.Equal(t, DefaultQueueCapacity, settings.Stream.QueueCapacity)
	assert.True(t, settings.Stream.DropLate)
	assert.Equal(t, "auto", settings.Device.Backend)
	assert.Equal(t, DefaultUpdateInterval, settings.Device.UpdateInterval)
	assert.Equal(t, DefaultVirtualVoices, settings.Device.VirtualVoices)
	assert.Equal(t, DefaultMaxBuffers, settings.Stream.MaxBuffers)
	assert.Equal(t, 50*time.Millisecond, settings.Scheduler.AgingInterval)
	assert.Equal(t, 5*time.Minute, settings.Cache.TTL)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	assert.Same(t, settings, GetSettings())
}

func TestLoadOverridesFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, `
scheduler:
  workers: 6
  aginginterval: 125ms
stream:
  packetframes: 1024
  droplate: false
device:
  backend: pulse
  virtual: true
logging:
  default_level: debug
`)
	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, settings.Scheduler.Workers)
	assert.Equal(t, 125*time.Millisecond, settings.Scheduler.AgingInterval)
	assert.Equal(t, 1024, settings.Stream.PacketFrames)
	assert.False(t, settings.Stream.DropLate)
	assert.Equal(t, "pulse", settings.Device.Backend)
	assert.True(t, settings.Device.Virtual)
	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("AUDIOSTREAM_WORKERS", "3")
	t.Setenv("AUDIOSTREAM_VIRTUAL", "true")

	settings, err := Load(writeConfig(t, "scheduler:\n  workers: 8\n"))
	require.NoError(t, err)

	assert.Equal(t, 3, settings.Scheduler.Workers)
	assert.True(t, settings.Device.Virtual)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := Load(writeConfig(t, "stream:\n  queuecapacity: 0\ndevice:\n  backend: winamp\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "got %v", err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestLoadRejectsRingSmallerThanQueue(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := Load(writeConfig(t, "stream:\n  packetframes: 8192\n  queuecapacity: 4\ndevice:\n  ringframes: 16384\n"))
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Errors, 1)
	assert.Contains(t, ve.Errors[0], "device.ringframes")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	settings, err := Load(writeConfig(t, "stream:\n  loop: true\n"))
	require.NoError(t, err)
	settings.Scheduler.Workers = 5

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveYAMLConfig(out, settings))

	viper.Reset()
	reloaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.Scheduler.Workers)
	assert.True(t, reloaded.Stream.Loop)
	assert.Equal(t, settings.Device.UpdateInterval, reloaded.Device.UpdateInterval)
}

func TestEnvValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(string) error
		value   string
		wantErr bool
	}{
		{"bool ok", validateEnvBool, "true", false},
		{"bool bad", validateEnvBool, "yes please", true},
		{"workers ok", validateEnvWorkers, "0", false},
		{"workers negative", validateEnvWorkers, "-1", true},
		{"workers too many", validateEnvWorkers, "100000", true},
		{"frames zero", validateEnvPositiveInt, "0", true},
		{"duration ok", validateEnvDuration, "15ms", false},
		{"duration bad", validateEnvDuration, "soon", true},
		{"backend ok", validateEnvBackend, "ALSA", false},
		{"backend bad", validateEnvBackend, "winamp", true},
		{"listen ok", validateEnvListen, ":9090", false},
		{"listen bad", validateEnvListen, "9090", true},
		{"level ok", validateEnvLogLevel, "TRACE", false},
		{"level bad", validateEnvLogLevel, "loud", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetDefaultConfigPaths(t *testing.T) {
	paths, err := GetDefaultConfigPaths()
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[0], appDir)
}
