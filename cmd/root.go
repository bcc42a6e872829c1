package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// configPath is shared by every command that loads configuration.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Orchestrate expert AI agents over a task graph",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
