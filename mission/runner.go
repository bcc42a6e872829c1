package mission

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"foreman/scheduler"
	"foreman/store"
)

// workspaceBackend is implemented by backends that isolate work on a
// branch; the runner records the branch so finalization can merge it.
type workspaceBackend interface {
	Branch(st *scheduler.Subtask) string
	Worktree(st *scheduler.Subtask) string
}

// BackendRunner executes one agent against an execution backend and
// writes the outcome back to the store.
type BackendRunner struct {
	backend scheduler.Backend
	sink    *store.Bundle
	log     hclog.Logger
}

func NewBackendRunner(b scheduler.Backend, sink *store.Bundle, log hclog.Logger) *BackendRunner {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &BackendRunner{backend: b, sink: sink, log: log.Named("runner")}
}

func (r *BackendRunner) Run(ctx context.Context, agent store.AgentRecord) {
	r.sink.Agents.UpdateAgentStatus(agent.ID, AgentExecuting, nil, nil)
	r.sink.Events.Append(agent.MissionID, agent.ID, "agent.executing", "")

	st := &scheduler.Subtask{
		ID:          agent.Name,
		Description: agent.Description,
		AgentType:   agent.AgentType,
	}

	result, err := r.backend.Execute(ctx, st, agent.Description)
	if err != nil {
		msg := err.Error()
		r.sink.Agents.UpdateAgentStatus(agent.ID, AgentFailed, nil, &msg)
		r.sink.Events.Append(agent.MissionID, agent.ID, "agent.failed", msg)
		r.log.Error("agent failed", "agent", agent.Name, "error", err)
		return
	}

	if wb, ok := r.backend.(workspaceBackend); ok {
		r.sink.Agents.SetAgentWorkspace(agent.ID, wb.Branch(st), wb.Worktree(st))
	}

	r.sink.Agents.UpdateAgentStatus(agent.ID, AgentCompleted, &result, nil)
	r.sink.Events.Append(agent.MissionID, agent.ID, "agent.completed", "")
	r.log.Info("agent completed", "agent", agent.Name, "chars", len(result))
}
