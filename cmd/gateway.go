package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"foreman/config"
	"foreman/gateway"
)

var gatewayName string

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Inspect a configured agent gateway",
}

// connectGateway dials the named gateway (or the only configured one)
// and returns a connected client.
func connectGateway(ctx context.Context) (*gateway.Client, error) {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var gw *config.Gateway
	switch {
	case gatewayName != "":
		gw = cfg.Gateway(gatewayName)
		if gw == nil {
			return nil, fmt.Errorf("gateway '%s' not defined in config", gatewayName)
		}
	case len(cfg.Gateways) == 1:
		gw = &cfg.Gateways[0]
	case len(cfg.Gateways) == 0:
		return nil, fmt.Errorf("no gateway blocks in config")
	default:
		return nil, fmt.Errorf("multiple gateways configured, pick one with --gateway")
	}

	client := gateway.NewClient(gateway.Options{
		URL:                  gw.URL,
		Token:                gw.Token,
		SessionKey:           gw.SessionKey,
		CFAccessClientID:     gw.CFAccessClientID,
		CFAccessClientSecret: gw.CFAccessClientSecret,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// gatewayQuery runs one RPC against the gateway and prints the result
// as indented JSON.
func gatewayQuery(query func(context.Context, *gateway.Client) (any, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := connectGateway(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	result, err := query(ctx, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

var gatewayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Run: func(cmd *cobra.Command, args []string) {
		gatewayQuery(func(ctx context.Context, c *gateway.Client) (any, error) {
			return c.Status(ctx)
		})
	},
}

var gatewayAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents on the gateway",
	Run: func(cmd *cobra.Command, args []string) {
		gatewayQuery(func(ctx context.Context, c *gateway.Client) (any, error) {
			return c.Agents(ctx)
		})
	},
}

var gatewayModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the gateway",
	Run: func(cmd *cobra.Command, args []string) {
		gatewayQuery(func(ctx context.Context, c *gateway.Client) (any, error) {
			return c.Models(ctx)
		})
	},
}

var gatewaySessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active sessions on the gateway",
	Run: func(cmd *cobra.Command, args []string) {
		gatewayQuery(func(ctx context.Context, c *gateway.Client) (any, error) {
			return c.Sessions(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
	gatewayCmd.PersistentFlags().StringVarP(&gatewayName, "gateway", "g", "", "Gateway name from config")
	gatewayCmd.AddCommand(gatewayStatusCmd)
	gatewayCmd.AddCommand(gatewayAgentsCmd)
	gatewayCmd.AddCommand(gatewayModelsCmd)
	gatewayCmd.AddCommand(gatewaySessionsCmd)
}
