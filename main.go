package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/manuel-valencia/lab-framework/cmd/controller"
	"github.com/manuel-valencia/lab-framework/cmd/node"
	"github.com/manuel-valencia/lab-framework/internal/util/command"
)

func main() {
	var verbose bool

	rootCmd := command.NewSubcommandGroup("lab",
		node.New(),
		controller.New(),
	)
	rootCmd.Short = "Distributed laboratory experiment coordination"
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
