package function

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignitionstack/ember/internal/ui"
	"github.com/ignitionstack/ember/internal/ui/operations"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/ignitionstack/ember/pkg/manifest"
	"github.com/ignitionstack/ember/pkg/registry"
	"github.com/spf13/cobra"
)

func NewFunctionRegisterCommand(newClient func() (api.Client, error)) *cobra.Command {
	var artifactPath string
	var version string
	var plain bool

	cmd := &cobra.Command{
		Use:   "register [path]",
		Short: "Register a function artifact with the engine",
		Long: `Register a compiled WebAssembly artifact together with its manifest.

path is a manifest file or a directory holding ember.toml (or ember.yaml).
The artifact defaults to <id>.wasm next to the manifest.

The version is tagged with its manifest version and with "latest". Routes
declared by the manifest are served by the engine right away.`,
		Example: `  # Register the function in the current directory
  ember function register

  # Register with an explicit artifact and version
  ember function register ./hello --artifact ./target/hello.wasm --version 1.2.0`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}

			m, err := manifest.Load(path)
			if err != nil {
				return err
			}
			if version != "" {
				m.FunctionSettings.Version = version
			}

			if artifactPath == "" {
				dir := path
				if info, err := os.Stat(path); err == nil && !info.IsDir() {
					dir = filepath.Dir(path)
				}
				artifactPath = filepath.Join(dir, m.FunctionSettings.ID+".wasm")
			}
			payload, err := os.ReadFile(artifactPath)
			if err != nil {
				return fmt.Errorf("failed to read artifact: %w", err)
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			return operations.WithSpinner("Registering "+m.Reference().String()+"...", plain,
				func() (interface{}, error) {
					return client.Register(context.Background(), api.RegisterRequest{Manifest: *m, Artifact: payload})
				},
				func(result interface{}, elapsed time.Duration) {
					resp := result.(*api.RegisterResponse)
					ui.PrintSuccess(fmt.Sprintf("Registered %s in %s", resp.Ref, elapsed.Round(time.Millisecond)))
					ui.PrintInfo("Digest", registry.ShortDigest(resp.Digest))
					ui.PrintInfo("Tags", strings.Join(resp.Tags, ", "))
					ui.PrintInfo("Size", formatSize(resp.Size))
				})
		},
	}

	cmd.Flags().StringVarP(&artifactPath, "artifact", "a", "", "Path to the compiled .wasm artifact")
	cmd.Flags().StringVarP(&version, "version", "v", "", "Version to register (overrides the manifest)")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain output without a spinner")
	return cmd
}
