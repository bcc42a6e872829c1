// Package mission is the durable side of orchestration: a background
// monitor that advances a mission's agents as their dependencies clear,
// retries failures against a budget, and finalizes by merging each
// agent's branch back into the main line.
package mission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"foreman/store"
	"foreman/workspace"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxRetries   = 3
)

// Agent states mirrored into the store by runners and the monitor.
const (
	AgentPending     = "pending"
	AgentDispatching = "dispatching"
	AgentExecuting   = "executing"
	AgentCompleted   = "completed"
	AgentFailed      = "failed"
)

// Runner executes one agent's work and writes the terminal status back
// to the store. The monitor decides when to run; the runner owns the
// execution itself.
type Runner interface {
	Run(ctx context.Context, agent store.AgentRecord)
}

// Options wires a Monitor. Store and Runner are required; Workspace is
// optional and enables branch merging during finalization.
type Options struct {
	Store        *store.Bundle
	Runner       Runner
	Workspace    *workspace.Manager
	PollInterval time.Duration
	MaxRetries   int
	Logger       hclog.Logger
}

// Monitor polls a mission's agent records until the mission resolves.
// It spawns agents whose dependencies cleared, retries failed agents
// within the budget, and fails the mission once any agent exhausts it.
type Monitor struct {
	sink         *store.Bundle
	runner       Runner
	ws           *workspace.Manager
	pollInterval time.Duration
	maxRetries   int
	log          hclog.Logger

	retries map[string]int
}

func NewMonitor(opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Monitor{
		sink:         opts.Store,
		runner:       opts.Runner,
		ws:           opts.Workspace,
		pollInterval: opts.PollInterval,
		maxRetries:   opts.MaxRetries,
		log:          log.Named("monitor"),
		retries:      make(map[string]int),
	}
}

// Watch drives one mission to a terminal state. It blocks until the
// mission completes, fails, or the context is cancelled.
func (m *Monitor) Watch(ctx context.Context, missionID string) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		agents, err := m.sink.Agents.GetAgentsByMission(missionID)
		if err != nil {
			m.log.Error("agent lookup failed", "mission", missionID, "error", err)
			continue
		}
		if len(agents) == 0 {
			return nil
		}

		done, err := m.step(ctx, missionID, agents)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// step advances the mission one poll: returns done=true once the
// mission reached a terminal state.
func (m *Monitor) step(ctx context.Context, missionID string, agents []store.AgentRecord) (bool, error) {
	allCompleted := true
	for _, a := range agents {
		if a.Status != AgentCompleted {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		m.finalize(ctx, missionID, agents)
		return true, nil
	}

	byName := make(map[string]store.AgentRecord, len(agents))
	for _, a := range agents {
		byName[a.Name] = a
	}

	for _, a := range agents {
		switch a.Status {
		case AgentFailed:
			if m.retries[a.ID] >= m.maxRetries {
				msg := fmt.Sprintf("agent %q could not be completed after %d retries", a.Name, m.maxRetries)
				m.sink.Missions.UpdateMissionStatus(missionID, store.MissionFailed, nil, &msg)
				m.sink.Events.Append(missionID, a.ID, "mission.failed", msg)
				m.log.Error("mission failed", "mission", missionID, "agent", a.Name)
				return true, nil
			}
			m.retries[a.ID]++
			m.log.Warn("retrying agent", "mission", missionID, "agent", a.Name, "attempt", m.retries[a.ID])
			m.sink.Events.Append(missionID, a.ID, "agent.retry", fmt.Sprintf("attempt %d", m.retries[a.ID]))
			m.spawn(ctx, a)

		case AgentPending:
			if depsCompleted(a, byName) {
				m.spawn(ctx, a)
			}
		}
	}
	return false, nil
}

func depsCompleted(a store.AgentRecord, byName map[string]store.AgentRecord) bool {
	for _, dep := range a.DependsOn {
		d, ok := byName[dep]
		if !ok || d.Status != AgentCompleted {
			return false
		}
	}
	return true
}

// spawn hands an agent to the runner. Status moves to dispatching first
// so the next poll does not spawn it again.
func (m *Monitor) spawn(ctx context.Context, a store.AgentRecord) {
	if err := m.sink.Agents.UpdateAgentStatus(a.ID, AgentDispatching, nil, nil); err != nil {
		m.log.Warn("agent dispatch update failed", "agent", a.ID, "error", err)
		return
	}
	m.sink.Events.Append(a.MissionID, a.ID, "agent.dispatching", a.Description)
	go m.runner.Run(ctx, a)
}

// finalize merges each agent's branch into the main line and cleans up
// its workspace. A merge conflict is non-fatal: the branch is reported
// unmerged and cleanup still runs.
func (m *Monitor) finalize(ctx context.Context, missionID string, agents []store.AgentRecord) {
	var merged, unmerged []string
	for _, a := range agents {
		if a.Branch == "" || m.ws == nil {
			continue
		}

		ok, err := m.ws.MergeBranch(ctx, a.Branch, fmt.Sprintf("Merge %s (%s)", a.Name, a.Branch))
		switch {
		case err != nil:
			m.log.Error("merge failed", "branch", a.Branch, "error", err)
			unmerged = append(unmerged, fmt.Sprintf("%s: %v", a.Name, err))
			m.sink.Events.Append(missionID, a.ID, "merge.failed", err.Error())
		case !ok:
			unmerged = append(unmerged, fmt.Sprintf("%s: merge conflict", a.Name))
			m.sink.Events.Append(missionID, a.ID, "merge.conflict", a.Branch)
		default:
			merged = append(merged, a.Name)
			m.sink.Events.Append(missionID, a.ID, "merge.ok", a.Branch)
		}

		if a.Worktree != "" {
			if err := m.ws.RemoveWorktree(ctx, a.Worktree); err != nil {
				m.log.Warn("worktree cleanup failed", "path", a.Worktree, "error", err)
			}
		}
		m.ws.DeleteBranch(ctx, a.Branch)
	}

	summary := finalSummary(merged, unmerged)
	m.sink.Missions.UpdateMissionStatus(missionID, store.MissionCompleted, &summary, nil)
	m.sink.Events.Append(missionID, "", "mission.completed", summary)
	m.log.Info("mission completed", "mission", missionID, "merged", len(merged), "unmerged", len(unmerged))
}

func finalSummary(merged, unmerged []string) string {
	var b strings.Builder
	if len(merged) > 0 {
		b.WriteString("Merged branches:\n")
		for _, name := range merged {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	if len(unmerged) > 0 {
		b.WriteString("Unmerged branches:\n")
		for _, name := range unmerged {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	if b.Len() == 0 {
		return "All agents completed (no branches to merge)."
	}
	return strings.TrimRight(b.String(), "\n")
}
