// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "AUDIOSTREAM_DEBUG", validateEnvBool},
		{"logging.default_level", "AUDIOSTREAM_LOG_LEVEL", validateEnvLogLevel},

		{"scheduler.workers", "AUDIOSTREAM_WORKERS", validateEnvWorkers},
		{"scheduler.aginginterval", "AUDIOSTREAM_AGING_INTERVAL", validateEnvDuration},

		{"stream.packetframes", "AUDIOSTREAM_PACKET_FRAMES", validateEnvPositiveInt},
		{"stream.queuecapacity", "AUDIOSTREAM_QUEUE_CAPACITY", validateEnvPositiveInt},
		{"stream.droplate", "AUDIOSTREAM_DROP_LATE", validateEnvBool},
		{"stream.loop", "AUDIOSTREAM_LOOP", validateEnvBool},

		{"device.backend", "AUDIOSTREAM_BACKEND", validateEnvBackend},
		{"device.name", "AUDIOSTREAM_DEVICE", nil},
		{"device.virtual", "AUDIOSTREAM_VIRTUAL", validateEnvBool},

		{"metrics.enabled", "AUDIOSTREAM_METRICS", validateEnvBool},
		{"metrics.listen", "AUDIOSTREAM_METRICS_LISTEN", validateEnvListen},

		{"sentry.enabled", "AUDIOSTREAM_SENTRY", validateEnvBool},
		{"sentry.dsn", "AUDIOSTREAM_SENTRY_DSN", nil},
		{"sentry.dsnfile", "AUDIOSTREAM_SENTRY_DSN_FILE", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log level must be one of trace, debug, info, warn, error; got '%s'", value)
}

func validateEnvWorkers(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid worker count: %w", err)
	}
	if n < 0 || n > maxWorkers {
		return fmt.Errorf("worker count must be between 0 and %d, got %d", maxWorkers, n)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("value must be positive, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !isKnownBackend(value) {
		return fmt.Errorf("unknown backend '%s', expected one of %s", value, strings.Join(knownBackends, ", "))
	}
	return nil
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("listen address must be host:port: %w", err)
	}
	return nil
}
