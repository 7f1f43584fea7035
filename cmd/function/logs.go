package function

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ignitionstack/ember/internal/ui"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/spf13/cobra"
)

const followInterval = 2 * time.Second

func NewFunctionLogsCommand(newClient func() (api.Client, error)) *cobra.Command {
	var follow bool
	var since time.Duration
	var tail int

	cmd := &cobra.Command{
		Use:   "logs [id@version]",
		Short: "Show a function's audit log",
		Long: `Show the audit log the engine keeps for a function reference: loads,
evictions, completed calls and failures with their panic, stderr or exit
code details.

The log is kept in memory per reference and is bounded, so old entries
roll off.`,
		Example: `  # Show the last 100 entries
  ember function logs hello@v1

  # Show the last 30 minutes and keep following
  ember function logs hello@latest --since 30m -f`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ref := args[0]
			client, err := newClient()
			if err != nil {
				return err
			}

			logs, err := client.Logs(context.Background(), ref, since, tail)
			if err != nil {
				return err
			}
			if len(logs) == 0 && !follow {
				ui.PrintEmptyState(fmt.Sprintf("No logs available for function %s", ref))
				return nil
			}
			seen := printNewLines(logs, nil)

			if !follow {
				return nil
			}

			ui.PrintInfo("Status", "Following logs (press Ctrl+C to exit)...")
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			ticker := time.NewTicker(followInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					// the since window overlaps the previous poll; seen drops repeats
					logs, err := client.Logs(ctx, ref, 2*followInterval, 0)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					seen = printNewLines(logs, seen)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().DurationVar(&since, "since", 0, "Show logs newer than this (e.g. 30m)")
	cmd.Flags().IntVar(&tail, "tail", 100, "Number of lines to show from the end of the logs")
	return cmd
}

// printNewLines prints the lines not in seen and returns the set of lines
// just printed or skipped, which is what the next poll can overlap with.
func printNewLines(lines []string, seen map[string]struct{}) map[string]struct{} {
	next := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		next[line] = struct{}{}
		if _, ok := seen[line]; ok {
			continue
		}
		fmt.Println(line)
	}
	return next
}
