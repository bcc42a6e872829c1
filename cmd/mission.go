package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"foreman/config"
	"foreman/mission"
	"foreman/scheduler"
	"foreman/store"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Run and inspect durable missions",
	Long:  `Missions are the store-backed view of orchestration: agents are recorded durably, retried on failure, and their branches merged when everything completes.`,
}

var missionRunCmd = &cobra.Command{
	Use:   "run [description]",
	Short: "Plan a mission and monitor it to completion",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg, err := config.LoadAndValidate(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		rt, err := buildRuntime(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		rec, err := runMission(ctx, cfg, rt, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printMission(rec)
		if rec.Status == store.MissionFailed {
			os.Exit(1)
		}
	},
}

// runMission plans the mission, records its agents, and watches it to a
// terminal state.
func runMission(ctx context.Context, cfg *config.Config, rt *runtime, description string) (*store.MissionRecord, error) {
	orch := cfg.Orchestrator

	planner := scheduler.NewPlanner(rt.oracle, rt.oracleModelID, rt.registry, rt.logger)
	plan := planner.Plan(ctx, description)
	subtasks := plan.Materialize()
	if err := scheduler.ValidateGraph(subtasks); err != nil {
		return nil, err
	}

	missionID, err := rt.bundle.Missions.CreateMission(description)
	if err != nil {
		return nil, fmt.Errorf("recording mission: %w", err)
	}
	rt.bundle.Missions.UpdateMissionStatus(missionID, store.MissionActive, nil, nil)
	for _, st := range subtasks {
		if _, err := rt.bundle.Agents.CreateAgent(missionID, st.ID, st.Description, st.AgentType, st.DependsOn); err != nil {
			return nil, fmt.Errorf("recording agent %s: %w", st.ID, err)
		}
	}
	fmt.Printf("Mission %s: %d agent(s)\n", missionID, len(subtasks))

	monitor := mission.NewMonitor(mission.Options{
		Store:        rt.bundle,
		Runner:       mission.NewBackendRunner(rt.backend, rt.bundle, rt.logger),
		Workspace:    rt.manager,
		PollInterval: time.Duration(orch.PollInterval) * time.Second,
		MaxRetries:   orch.MaxRetries,
		Logger:       rt.logger,
	})
	if err := monitor.Watch(ctx, missionID); err != nil {
		return nil, err
	}

	return rt.bundle.Missions.GetMission(missionID)
}

func printMission(m *store.MissionRecord) {
	fmt.Printf("Mission %s: %s\n", m.ID, m.Status)
	if m.Result != nil && *m.Result != "" {
		fmt.Printf("\n%s\n", *m.Result)
	}
	if m.Error != nil && *m.Error != "" {
		fmt.Printf("\nError: %s\n", *m.Error)
	}
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent missions",
	Run: func(cmd *cobra.Command, args []string) {
		bundle := openStore()
		defer bundle.Close()

		missions, err := bundle.Missions.ListMissions(20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(missions) == 0 {
			fmt.Println("No missions recorded")
			return
		}
		for _, m := range missions {
			fmt.Printf("%s  %-10s  %s\n", m.ID, m.Status, m.Description)
		}
	},
}

var missionStatusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show a mission and its agents",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bundle := openStore()
		defer bundle.Close()

		m, err := bundle.Missions.GetMission(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printMission(m)

		agents, err := bundle.Agents.GetAgentsByMission(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, a := range agents {
			fmt.Printf("  [%s] %s (%s)\n", a.Name, a.Status, a.AgentType)
			if a.Error != nil && *a.Error != "" {
				fmt.Printf("      error: %s\n", *a.Error)
			}
		}
	},
}

var missionEventsCmd = &cobra.Command{
	Use:   "events [id]",
	Short: "Show a mission's audit log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bundle := openStore()
		defer bundle.Close()

		events, err := bundle.Events.ListEvents(args[0], 100)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, e := range events {
			fmt.Printf("%s  %-24s  %s\n", e.CreatedAt.Format(time.RFC3339), e.Kind, e.Message)
		}
	},
}

// openStore opens the configured store for read-only inspection. The
// inspection commands only make sense with a sqlite store; a memory
// store is empty across processes, which the list output makes obvious.
func openStore() *store.Bundle {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Orchestrator == nil {
		fmt.Fprintln(os.Stderr, "Error: config has no orchestrator block")
		os.Exit(1)
	}
	bundle, err := store.NewBundle(cfg.Orchestrator.Store, cfg.Orchestrator.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return bundle
}

func init() {
	rootCmd.AddCommand(missionCmd)
	missionCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
	missionCmd.AddCommand(missionRunCmd)
	missionCmd.AddCommand(missionListCmd)
	missionCmd.AddCommand(missionStatusCmd)
	missionCmd.AddCommand(missionEventsCmd)
}
