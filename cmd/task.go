package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"foreman/backend"
	"foreman/config"
	"foreman/gateway"
	"foreman/llm"
	"foreman/scheduler"
	"foreman/store"
	"foreman/template"
	"foreman/workspace"
)

var taskJSONOutput bool

var taskCmd = &cobra.Command{
	Use:   "task [description]",
	Short: "Run an orchestrated task",
	Long:  `Decompose a task into subtasks, execute them against the configured backend respecting dependencies, and print the synthesized result.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg, err := config.LoadAndValidate(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		svc, cleanup, err := buildService(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		task := svc.Submit(ctx, args[0])
		svc.Wait()

		final := svc.Get(task.ID)
		if taskJSONOutput {
			data, err := json.MarshalIndent(final, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
		} else {
			printTask(final)
		}

		if final.Status == scheduler.TaskFailed {
			os.Exit(1)
		}
	},
}

func printTask(t *scheduler.Task) {
	fmt.Printf("Task %s: %s\n\n", t.ID, t.Status)
	for _, st := range t.Subtasks {
		fmt.Printf("  [%s] %s (%s)\n", st.ID, st.Status, st.AgentType)
		if st.Error != "" {
			fmt.Printf("      error: %s\n", st.Error)
		}
	}
	if t.FinalResult != "" {
		fmt.Printf("\n%s\n", t.FinalResult)
	}
	if t.Error != "" {
		fmt.Printf("\nError: %s\n", t.Error)
	}
}

// runtime is the wired object graph behind the task and mission
// commands: providers, templates, execution backend, and the store.
type runtime struct {
	logger   hclog.Logger
	registry *template.Registry

	oracle        llm.Provider
	oracleModelID string

	bundle  *store.Bundle
	backend scheduler.Backend
	manager *workspace.Manager

	pool *gateway.Pool
}

func (r *runtime) close() {
	if r.pool != nil {
		r.pool.Close()
	}
	r.bundle.Close()
}

// buildRuntime wires providers, templates, backend chain and store from
// the orchestrator block.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	orch := cfg.Orchestrator
	if orch == nil {
		return nil, fmt.Errorf("config has no orchestrator block")
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "foreman",
		Output: os.Stderr,
		Level:  hclog.Warn,
	})

	registry := cfg.Registry()

	oracleModel := cfg.Model(orch.Model)
	oracle, err := llm.NewProvider(ctx, string(oracleModel.Provider), oracleModel.APIKey)
	if err != nil {
		return nil, fmt.Errorf("oracle provider: %w", err)
	}

	subModel := oracleModel
	sub := oracle
	if orch.SubModel != "" {
		subModel = cfg.Model(orch.SubModel)
		sub, err = llm.NewProvider(ctx, string(subModel.Provider), subModel.APIKey)
		if err != nil {
			return nil, fmt.Errorf("sub-agent provider: %w", err)
		}
	}

	bundle, err := store.NewBundle(orch.Store, orch.StorePath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	rt := &runtime{
		logger:        logger,
		registry:      registry,
		oracle:        oracle,
		oracleModelID: oracleModel.ModelID,
		bundle:        bundle,
	}

	switch orch.Backend {
	case "", config.BackendDirect:
		rt.backend = backend.NewDirectModel(sub, subModel.ModelID, registry, logger)

	case config.BackendRemote:
		gw := cfg.Gateway(orch.Gateway)
		rt.pool = gateway.NewPool(logger)
		remote := backend.NewRemoteSession(rt.pool, gateway.Options{
			URL:                  gw.URL,
			Token:                gw.Token,
			SessionKey:           gw.SessionKey,
			CFAccessClientID:     gw.CFAccessClientID,
			CFAccessClientSecret: gw.CFAccessClientSecret,
			Logger:               logger,
		}, registry, logger)
		direct := backend.NewDirectModel(sub, subModel.ModelID, registry, logger)
		rt.backend = backend.NewFallback(remote, direct, logger)

	case config.BackendWorkspace:
		base := orch.WorktreeBase
		if base == "" {
			base = filepath.Join(os.TempDir(), "foreman", "worktrees")
		}
		rt.manager = workspace.NewManager(orch.RepoPath, base, logger)
		rt.backend = backend.NewWorkspace(sub, subModel.ModelID, rt.manager, logger)
	}

	return rt, nil
}

// buildService wires the scheduler from config: providers, templates,
// backend chain, store, and the oracle roles.
func buildService(ctx context.Context, cfg *config.Config) (*scheduler.Service, func(), error) {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	orch := cfg.Orchestrator

	opts := scheduler.Options{
		Planner:     scheduler.NewPlanner(rt.oracle, rt.oracleModelID, rt.registry, rt.logger),
		Backend:     rt.backend,
		Synthesizer: scheduler.NewSynthesizer(rt.oracle, rt.oracleModelID, rt.logger),
		MaxParallel: orch.MaxParallel,
		Store:       rt.bundle,
		Logger:      rt.logger,
	}
	if orch.Review {
		opts.Reviewer = scheduler.NewReviewer(rt.oracle, rt.oracleModelID, rt.logger)
	}

	svc := scheduler.NewService(scheduler.New(opts), rt.logger)
	return svc, rt.close, nil
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.Flags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
	taskCmd.Flags().BoolVar(&taskJSONOutput, "json", false, "Print the full task record as JSON")
}
