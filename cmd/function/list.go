package function

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ignitionstack/ember/internal/ui"
	"github.com/ignitionstack/ember/pkg/engine/api"
	"github.com/ignitionstack/ember/pkg/registry"
	"github.com/spf13/cobra"
)

func NewFunctionListCommand(newClient func() (api.Client, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [id]",
		Aliases: []string{"ls"},
		Short:   "List functions in the registry",
		Long: `Display the functions registered with the engine.

Every tag of every version gets a row with:
* Function id
* Tag
* Digest (also usable as a version)
* Size
* Routes declared by the manifest

Given an id, only that function's versions are listed.`,
		Example: `  # List all functions
  ember function list

  # List all versions of one function
  ember function list hello

  # List in plain format (useful for scripting)
  ember function list --plain`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plainFormat, _ := cmd.Flags().GetBool("plain")

			client, err := newClient()
			if err != nil {
				return err
			}
			functions, err := client.Functions(context.Background())
			if err != nil {
				return err
			}

			if len(args) == 1 {
				functions = filterFunctions(functions, args[0])
				if len(functions) == 0 {
					return fmt.Errorf("function %q is not registered", args[0])
				}
			}

			rows := functionRows(functions)
			if plainFormat {
				const format = "%-30s\t%-15s\t%-15s\t%-10s\t%s\n"
				fmt.Printf(format, "FUNCTION", "TAG", "DIGEST", "SIZE", "ROUTES")
				for _, row := range rows {
					fmt.Printf(format, row[0], row[1], row[2], row[3], row[4])
				}
				return nil
			}

			if len(rows) == 0 {
				ui.PrintEmptyState("No functions registered")
				return nil
			}
			table := ui.NewTable([]string{"FUNCTION", "TAG", "DIGEST", "SIZE", "ROUTES"})
			for _, row := range rows {
				table.AddRow(row...)
			}
			fmt.Println(ui.RenderTable(table))
			return nil
		},
	}

	cmd.Flags().Bool("plain", false, "Output in plain, machine-readable format (useful for piping to other commands)")
	return cmd
}

func filterFunctions(functions []registry.FunctionMetadata, id string) []registry.FunctionMetadata {
	var out []registry.FunctionMetadata
	for _, fn := range functions {
		if fn.ID == id {
			out = append(out, fn)
		}
	}
	return out
}

// functionRows flattens functions into one row per tag, newest version first.
// An untagged version gets a single "<none>" row.
func functionRows(functions []registry.FunctionMetadata) [][]string {
	sort.Slice(functions, func(i, j int) bool { return functions[i].ID < functions[j].ID })

	var rows [][]string
	for _, fn := range functions {
		for i := len(fn.Versions) - 1; i >= 0; i-- {
			version := fn.Versions[i]

			routes := make([]string, 0, len(version.Routes))
			for _, route := range version.Routes {
				method := route.Method
				if method == "" {
					method = "*"
				}
				routes = append(routes, method+" "+route.Path)
			}

			tags := append([]string(nil), version.Tags...)
			sort.Strings(tags)
			if len(tags) == 0 {
				tags = []string{"<none>"}
			}
			for _, tag := range tags {
				rows = append(rows, []string{fn.ID, tag, version.Hash, formatSize(version.Size), strings.Join(routes, ", ")})
			}
		}
	}
	return rows
}
