package cmd

import (
	"github.com/ignitionstack/ember/cmd/engine"
	"github.com/ignitionstack/ember/pkg/engine/config"
	"github.com/spf13/cobra"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "engine related commands",
}

func init() {
	engineCmd.AddCommand(engine.NewEngineStartCommand(func() (*config.Config, error) {
		return config.LoadConfig(configPath)
	}))
	engineCmd.AddCommand(engine.NewEngineStatusCommand(newEngineClient))

	rootCmd.AddCommand(engineCmd)
}
