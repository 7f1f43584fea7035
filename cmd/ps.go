package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ignitionstack/ember/internal/ui"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/registry"
	"github.com/spf13/cobra"
)

// PsCmd lists the artifacts the engine holds.
var PsCmd = &cobra.Command{
	Use:   "ps",
	Short: "List loaded functions",
	Long: `List the artifacts currently loaded in the ember engine.

For each loaded artifact the command shows:
* The function reference
* The artifact digest it was loaded from
* How many calls hold it right now
* When it was loaded and last used
* Its state: in use, idle, or retired (replaced or invalidated while in use)

The command requires that the engine is already running.`,
	Example: `  # List loaded functions
  ember ps

  # List in plain format (useful for scripting)
  ember ps --plain`,
	RunE: func(c *cobra.Command, _ []string) error {
		plainFormat, _ := c.Flags().GetBool("plain")

		client, err := newEngineClient()
		if err != nil {
			return err
		}

		ctx := context.Background()
		if _, err := client.Status(ctx); err != nil {
			if !plainFormat {
				ui.PrintWarning("Engine is not running. No functions will be shown.")
			}
			return err
		}

		loaded, err := client.Loaded(ctx)
		if err != nil {
			return fmt.Errorf("failed to list loaded functions: %w", err)
		}

		if plainFormat {
			const format = "%-30s\t%-15s\t%-5s\t%-10s\t%s\n"
			fmt.Printf(format, "FUNCTION", "DIGEST", "REFS", "STATE", "LAST USED")
			for _, info := range loaded {
				fmt.Printf(format, info.Ref, registry.ShortDigest(info.Fingerprint), strconv.FormatInt(info.Refs, 10), handleState(info), info.LastUsed.Format(time.RFC3339))
			}
			return nil
		}

		if len(loaded) == 0 {
			ui.PrintEmptyState("No functions loaded")
			return nil
		}

		table := ui.NewTable([]string{"FUNCTION", "DIGEST", "REFS", "LOADED", "LAST USED", "STATE"})
		for _, info := range loaded {
			table.AddRow(
				info.Ref.String(),
				registry.ShortDigest(info.Fingerprint),
				strconv.FormatInt(info.Refs, 10),
				since(info.LoadedAt),
				since(info.LastUsed),
				ui.StyleStatusValue(handleState(info)),
			)
		}
		fmt.Println(ui.RenderTable(table))
		return nil
	},
}

func handleState(info components.HandleInfo) string {
	switch {
	case info.Retired:
		return "retired"
	case info.Refs > 0:
		return "in use"
	default:
		return "idle"
	}
}

func since(t time.Time) string {
	return time.Since(t).Round(time.Second).String() + " ago"
}

func init() {
	PsCmd.Flags().Bool("plain", false, "Output in plain, machine-readable format (useful for piping to other commands)")
	rootCmd.AddCommand(PsCmd)
}
