// Package di wires the engine, its HTTP servers and their lifecycles with fx.
package di

import (
	"context"
	"fmt"
	"os"

	"github.com/ignitionstack/ember/pkg/engine"
	"github.com/ignitionstack/ember/pkg/engine/config"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// Module provides everything `ember engine start` runs. The caller supplies
// a *config.Config.
var Module = fx.Options(
	fx.Provide(
		NewZapLogger,
		func(l *logging.ZapLogger) logging.Logger { return l },
		NewEngine,
		engine.NewHandlers,
		NewServer,
	),
	fx.WithLogger(func(l *logging.ZapLogger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: l.Zap()}
	}),
	// the server depends on the engine, so fx stops it first
	fx.Invoke(func(*engine.Server) {}),
)

// NewZapLogger builds the process logger from the log section and flushes it
// on stop.
func NewZapLogger(lc fx.Lifecycle, cfg *config.Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		_ = logger.Sync()
	}))
	return logger, nil
}

// NewEngine opens the registry and starts the engine with the app.
func NewEngine(lc fx.Lifecycle, cfg *config.Config, logger logging.Logger) (*engine.Engine, error) {
	if err := os.MkdirAll(cfg.Server.RegistryDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	e, err := engine.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: e.Start,
		OnStop:  e.Shutdown,
	})
	return e, nil
}

// NewServer binds the admin socket and the edge listener.
func NewServer(lc fx.Lifecycle, cfg *config.Config, handlers *engine.Handlers, logger logging.Logger, shutdowner fx.Shutdowner) *engine.Server {
	server := engine.NewServer(cfg.Server.SocketPath, cfg.Server.HTTPAddr, handlers, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(ctx); err != nil {
				return err
			}
			go func() {
				if err, ok := <-server.Errors(); ok {
					logger.Errorf("Server failed: %v", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
	return server
}
