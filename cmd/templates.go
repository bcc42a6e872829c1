package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"foreman/config"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List agent templates",
	Long:  `List the agent templates the planner can assign subtasks to, including custom templates from config.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadAndValidate(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		for _, t := range cfg.Registry().List() {
			fmt.Printf("%s\n  %s\n", t.Type, t.Description)
			if len(t.Tags) > 0 {
				fmt.Printf("  tags: %s\n", strings.Join(t.Tags, ", "))
			}
			fmt.Println()
		}
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.Flags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
}
