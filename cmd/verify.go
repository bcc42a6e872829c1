package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"foreman/config"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Validate a configuration",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}

		cfg, err := config.LoadAndValidate(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Configuration valid: %d model(s), %d gateway(s), %d template(s)\n",
			len(cfg.Models), len(cfg.Gateways), len(cfg.Templates))
		if cfg.Orchestrator == nil {
			fmt.Println("Note: no orchestrator block; 'foreman task' will not run")
		}
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
