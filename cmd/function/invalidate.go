package function

import (
	"context"
	"fmt"

	"github.com/ignitionstack/ember/internal/ui"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/spf13/cobra"
)

func NewFunctionInvalidateCommand(newClient func() (api.Client, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [id@version]",
		Short: "Drop a function's loaded artifact",
		Long: `Drop the artifact the engine holds for a reference and reset its circuit
breaker.

Calls already running keep the artifact until they finish. The next call
loads it again from the registry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			invalidated, err := client.Invalidate(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !invalidated {
				ui.PrintWarning(fmt.Sprintf("%s was not loaded", args[0]))
				return nil
			}
			ui.PrintSuccess(fmt.Sprintf("Invalidated %s", args[0]))
			return nil
		},
	}
}
