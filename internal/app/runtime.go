// Package app holds the process-wide state shared by the commands: settings,
// logging, telemetry and the metrics registry.
package app

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/audiostream/internal/buildinfo"
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability"
	"github.com/tphakala/audiostream/internal/scheduler"
	"github.com/tphakala/audiostream/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// Runtime is populated by Init before a command runs and torn down by Close.
type Runtime struct {
	Version   string
	BuildDate string

	Settings *conf.Settings
	Info     *buildinfo.Context
	Metrics  *observability.Metrics
	Endpoint *observability.Endpoint

	central *logger.CentralLogger
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// New returns a runtime for the given build metadata.
func New(version, buildDate string) *Runtime {
	return &Runtime{
		Version:   version,
		BuildDate: buildDate,
		Info:      buildinfo.NewContext(version, buildDate, ""),
		quit:      make(chan struct{}),
	}
}

// Init loads settings and brings up logging, telemetry and metrics. An empty
// configFile searches the default locations.
func (r *Runtime) Init(configFile string) error {
	settings, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	r.Settings = settings

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logger").
			Build()
	}
	r.central = central
	logger.SetGlobal(central)
	log := GetLogger()

	systemID, err := buildinfo.LoadOrCreateSystemID(r.configDir())
	if err != nil {
		log.Warn("system ID unavailable", logger.Error(err))
	}
	r.Info = buildinfo.NewContext(r.Version, r.BuildDate, systemID)

	if err := telemetry.InitSentry(settings, r.Info); err != nil {
		log.Warn("telemetry disabled", logger.Error(err))
	}

	if r.Metrics, err = observability.NewMetrics(); err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategorySystem).
			Context("operation", "init_metrics").
			Build()
	}

	if settings.Metrics.Enabled {
		if r.Endpoint, err = observability.NewEndpoint(settings, r.Metrics); err != nil {
			return err
		}
		if err := r.Endpoint.Start(&r.wg, r.quit); err != nil {
			return err
		}
	}

	log.Debug("runtime initialized",
		logger.String("version", r.Info.Version()),
		logger.String("config", viper.ConfigFileUsed()))
	return nil
}

// configDir is where the system ID is kept: beside the config file in use.
func (r *Runtime) configDir() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return filepath.Dir(used)
	}
	if paths, err := conf.GetDefaultConfigPaths(); err == nil {
		return paths[0]
	}
	return "."
}

// NewPool starts a worker pool configured from settings and reporting to the
// shared metrics registry.
func (r *Runtime) NewPool() (*scheduler.Pool, error) {
	s := r.Settings.Scheduler
	return scheduler.New(scheduler.Options{
		Workers:        s.Workers,
		AgingInterval:  s.AgingInterval,
		UpdateInterval: s.UpdateInterval,
		Metrics:        r.Metrics.Scheduler,
	})
}

// Close stops the metrics endpoint, flushes telemetry and closes log outputs.
func (r *Runtime) Close() error {
	var err error
	r.once.Do(func() {
		close(r.quit)
		r.wg.Wait()
		telemetry.Shutdown(telemetryFlushTimeout)
		if r.central != nil {
			err = r.central.Close()
		}
	})
	return err
}

// GetLogger returns the app logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}
