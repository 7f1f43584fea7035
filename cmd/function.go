package cmd

import (
	"github.com/ignitionstack/ember/cmd/function"
	"github.com/spf13/cobra"
)

var functionCmd = &cobra.Command{
	Use:   "function",
	Short: "Manage functions",
	Long: `Commands for working with the functions an engine serves.

A function is addressed as id@version, where version is a tag such as
'latest' or a digest. This command group covers:
* Registering artifacts and their manifests
* Listing registered functions
* Calling a function
* Reading its audit log
* Dropping its loaded artifact`,
	Example: `  # List all functions in the registry
  ember function list

  # Call a function
  ember function call hello@latest`,
	Aliases: []string{"fn"},
}

func init() {
	functionCmd.AddCommand(function.NewFunctionRegisterCommand(newEngineClient))
	functionCmd.AddCommand(function.NewFunctionListCommand(newEngineClient))
	functionCmd.AddCommand(function.NewFunctionCallCommand(newEngineClient))
	functionCmd.AddCommand(function.NewFunctionLogsCommand(newEngineClient))
	functionCmd.AddCommand(function.NewFunctionInvalidateCommand(newEngineClient))

	rootCmd.AddCommand(function.NewFunctionCallCommand(newEngineClient))
	rootCmd.AddCommand(functionCmd)
}
