package app

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/config"
	"speech-relay-service/internal/observability/logging"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration and
// initializes the global logger.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.Logger.Info().
		Str("logLevel", cfg.Observability.LogLevel).
		Str("environment", cfg.Service.Env).
		Str("sttProvider", cfg.STT.Provider).
		Msg("Speech relay application created")
	return a
}

// Start marks the application ready to serve traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)

	a.Logger.Info().
		Str("method", "Start").
		Time("startupTime", a.StartupTime).
		Bool("mockMode", a.Cfg.MockMode()).
		Msg("Speech relay starting")
	return nil
}

// Ready reports whether the application accepts new sessions.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown marks the application not ready so health checks start failing
// while connections drain.
func (a *Application) Shutdown() {
	a.ready.Store(false)
	a.Logger.Info().
		Str("method", "Shutdown").
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Speech relay shutting down")
}
