package cmd

import (
	"os"

	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/ignitionstack/ember/pkg/engine/client"
	"github.com/ignitionstack/ember/pkg/engine/config"
	"github.com/spf13/cobra"
)

// Global flags
var (
	configPath string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "ember function host",
	Long: `ember serves WebAssembly functions over HTTP.

Each request is mapped to a function reference, the function's artifact is
loaded once and cached, and the call runs either inside the host or in a
short-lived child process.

Key capabilities:
* Register artifacts with their manifests in a local registry
* Route HTTP requests to functions by path or by manifest routes
* Inspect and invalidate loaded artifacts
* Read each function's audit log`,
	Example: `  # Run the engine
  ember engine start

  # Register a function
  ember function register ./hello

  # Call it through the admin API
  ember function call hello@latest --body '{"name": "World"}'

  # List loaded artifacts
  ember ps

  # Use a custom config file
  ember --config ~/.ember/custom-config.yaml function list`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "Path to the engine socket (overrides config)")
}

// loadEngineConfig loads the engine configuration, falling back to the
// defaults when the file is unusable
func loadEngineConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// newEngineClient connects to the socket given by flag, or by the config
func newEngineClient() (api.Client, error) {
	path := socketPath
	if path == "" {
		path = loadEngineConfig().Server.SocketPath
	}
	return client.New(client.Options{SocketPath: config.ExpandHome(path)})
}
