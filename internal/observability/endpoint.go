package observability

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Endpoint serves the metrics registry, and optionally pprof, over HTTP.
type Endpoint struct {
	server        *http.Server
	listener      net.Listener
	listenAddress string
	pprof         bool
	metrics       *Metrics
}

// NewEndpoint creates an endpoint for metrics. It fails when the metrics
// endpoint is not enabled in settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, errors.Newf("metrics endpoint not enabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return &Endpoint{
		listenAddress: settings.Metrics.Listen,
		pprof:         settings.Metrics.Pprof,
		metrics:       metrics,
	}, nil
}

// Handler returns the endpoint's routes.
func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	if e.pprof {
		RegisterDebugHandlers(mux)
	}
	return mux
}

// Start binds the listen address and serves until quitChan is closed. Both
// the server and its shutdown run under wg.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategorySystem).
			Context("operation", "listen").
			Context("address", e.listenAddress).
			Build()
	}
	e.listener = ln
	e.server = &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Go(func() {
		getLogger().Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			getLogger().Error("metrics HTTP server error", logger.Error(err))
		}
	})
	wg.Go(func() { e.gracefulShutdown(quitChan) })
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (e *Endpoint) Addr() string {
	if e.listener == nil {
		return e.listenAddress
	}
	return e.listener.Addr().String()
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	getLogger().Info("stopping metrics endpoint")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		getLogger().Error("metrics endpoint shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
