package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ignitionstack/ember/internal/ui"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/spf13/cobra"
)

// NewEngineStatusCommand reports whether the engine runs and what it holds.
func NewEngineStatusCommand(newClient func() (api.Client, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			status, err := client.Status(context.Background())
			if err != nil {
				ui.PrintError(err.Error())
				return err
			}

			ui.PrintHighlight("ember engine " + status.Version)
			ui.PrintInfo("Status", ui.StyleStatusValue(status.Status))
			ui.PrintInfo("Backend", status.Backend)
			ui.PrintInfo("Uptime", status.Uptime)
			ui.PrintInfo("Routes", strconv.Itoa(status.Routes))
			ui.PrintInfo("Cache", fmt.Sprintf("%d resident, %d in use, %d hits, %d misses, %d evictions",
				status.Cache.Resident, status.Cache.InUse, status.Cache.Hits, status.Cache.Misses, status.Cache.Evictions))

			if len(status.CircuitBreakers) == 0 {
				return nil
			}
			refs := make([]string, 0, len(status.CircuitBreakers))
			for ref := range status.CircuitBreakers {
				refs = append(refs, ref)
			}
			sort.Strings(refs)

			table := ui.NewTable([]string{"FUNCTION", "BREAKER"})
			for _, ref := range refs {
				table.AddRow(ref, ui.StyleStatusValue(status.CircuitBreakers[ref]))
			}
			fmt.Println(ui.RenderTable(table))
			return nil
		},
	}
}
