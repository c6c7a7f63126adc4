// Package telemetry provides opt-in, privacy-filtered error reporting.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/audiostream/internal/buildinfo"
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/privacy"
	"github.com/tphakala/audiostream/internal/secrets"
)

const releasePrefix = "audiostream@"

// Option adjusts how InitSentry configures the client.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests to capture events.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) {
		o.Transport = t
	}
}

// InitSentry initializes Sentry with privacy-compliant settings and routes
// enhanced errors to it. It does nothing unless telemetry is enabled.
func InitSentry(settings *conf.Settings, info buildinfo.BuildInfo, opts ...Option) error {
	log := getLogger()

	if !settings.Sentry.Enabled {
		log.Debug("sentry telemetry is disabled (opt-in required)")
		return nil
	}

	environment := settings.Sentry.Environment
	if environment == "" {
		environment = "production"
	}

	dsn, err := secrets.Resolve(settings.Sentry.DSNFile, settings.Sentry.DSN)
	if err != nil {
		return err
	}

	clientOptions := sentry.ClientOptions{
		Dsn:              dsn,
		SampleRate:       1.0,
		Debug:            settings.Sentry.Debug,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          releasePrefix + info.Version(),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&clientOptions)
	}

	if err := sentry.Init(clientOptions); err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	configureSentryScope(info)

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry initialized",
		logger.String("release", releasePrefix+info.Version()),
		logger.String("environment", environment),
		logger.String("system_id", info.SystemID()))
	return nil
}

// configureSentryScope sets the tags attached to every event.
func configureSentryScope(info buildinfo.BuildInfo) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", info.SystemID())
		scope.SetTag("app_version", info.Version())
		scope.SetTag("build_date", info.BuildDate())
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	return event
}

// Shutdown detaches the error reporter and flushes buffered events.
func Shutdown(timeout time.Duration) bool {
	if errors.GetTelemetryReporter() == nil {
		return true
	}
	errors.SetTelemetryReporter(nil)
	errors.SetPrivacyScrubber(nil)
	return sentry.Flush(timeout)
}
