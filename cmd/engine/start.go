package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ignitionstack/ember/internal/di"
	"github.com/ignitionstack/ember/pkg/engine/config"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// NewEngineStartCommand creates a command to start the engine. loadConfig
// returns the configuration before flag overrides.
func NewEngineStartCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var flags struct {
		httpAddr    string
		registryDir string
		backend     string
		runner      string
		logFile     string
		logLevel    string
	}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the engine server",
		Long: `Start the ember engine.

The engine serves:
* The HTTP edge: /fn/{id}/{version}/... and every route declared in a manifest
* /health and /metrics on the same listener
* The admin API on a unix socket, used by the other ember commands

Flags override the configuration file, which overrides the built-in defaults.
Environment variables (EMBER_CACHE__TTL=1m and the like) sit between the file
and the flags.`,
		Example: `  # Start the engine with default settings
  ember engine start

  # Serve on another port, running each call in a child process
  ember engine start --http :9090 --backend process

  # Start with detailed logging
  ember engine start --log-level debug --log-file /var/log/ember.log`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fs := cmd.Flags()
			if fs.Changed("http") {
				cfg.Server.HTTPAddr = flags.httpAddr
			}
			if fs.Changed("directory") {
				cfg.Server.RegistryDir = flags.registryDir
			}
			if fs.Changed("backend") {
				cfg.Engine.Backend = flags.backend
			}
			if fs.Changed("runner") {
				cfg.Process.RunnerPath = flags.runner
			}
			if fs.Changed("log-file") {
				cfg.Log.File = flags.logFile
			}
			if fs.Changed("log-level") {
				cfg.Log.Level = flags.logLevel
			}
			if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
				cfg.Server.SocketPath = socket
			}
			cfg.Server.SocketPath = config.ExpandHome(cfg.Server.SocketPath)
			cfg.Server.RegistryDir = config.ExpandHome(cfg.Server.RegistryDir)

			if err := cfg.Validate(); err != nil {
				return err
			}

			fmt.Println("Starting ember engine...")
			fmt.Println("Press Ctrl+C to stop")

			app := fx.New(
				fx.Supply(cfg),
				di.Module,
				fx.StartTimeout(30*time.Second),
				fx.StopTimeout(30*time.Second),
			)

			if err := app.Start(context.Background()); err != nil {
				return fmt.Errorf("failed to start engine: %w", err)
			}

			// Wait returns on SIGINT/SIGTERM or when the server asks fx to shut down
			sig := <-app.Wait()

			if err := app.Stop(context.Background()); err != nil {
				return fmt.Errorf("error during shutdown: %w", err)
			}
			if sig.ExitCode != 0 {
				os.Exit(sig.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.httpAddr, "http", "H", "", "HTTP edge address")
	cmd.Flags().StringVarP(&flags.registryDir, "directory", "d", "", "Registry directory")
	cmd.Flags().StringVarP(&flags.backend, "backend", "b", "", "Execution backend (inprocess or process)")
	cmd.Flags().StringVar(&flags.runner, "runner", "", "Runner binary for the process backend")
	cmd.Flags().StringVarP(&flags.logFile, "log-file", "l", "", "Log file path (logs to stderr if not specified)")
	cmd.Flags().StringVarP(&flags.logLevel, "log-level", "L", "", "Log level (debug, info, warn, error)")

	return cmd
}
