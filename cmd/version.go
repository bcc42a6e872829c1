package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.Long = fmt.Sprintf(`Foreman %s

AI master-agent orchestrator: decomposes a task into dependency-ordered
subtasks and runs them against expert agents, either through a remote
agent gateway or direct model calls.

Get started:
  foreman verify <path>   Validate your configuration
  foreman task "..."      Run a task end to end
  foreman templates       List the available agent templates
  foreman gateway status  Inspect a configured gateway`, Version)
}
