package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"foreman/store"
)

// Backend executes one subtask and returns its textual result. The
// prompt already carries the dependency context.
type Backend interface {
	Name() string
	Execute(ctx context.Context, st *Subtask, prompt string) (string, error)
}

const defaultMaxParallel = 4

// Options wires a Scheduler. Planner, Backend and Synthesizer are
// required; Reviewer and Store are optional.
type Options struct {
	Planner     *Planner
	Backend     Backend
	Reviewer    *Reviewer
	Synthesizer *Synthesizer
	MaxParallel int
	Store       *store.Bundle
	Logger      hclog.Logger
}

// Scheduler drives a task through planning, wave execution, review and
// synthesis. A subtask failure stays contained: dependents remain
// Pending and synthesis still runs over whatever resolved. Only a bad
// plan fails the whole task.
type Scheduler struct {
	planner     *Planner
	backend     Backend
	reviewer    *Reviewer
	synthesizer *Synthesizer
	maxParallel int
	sink        *store.Bundle
	log         hclog.Logger
}

func New(opts Options) *Scheduler {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Scheduler{
		planner:     opts.Planner,
		backend:     opts.Backend,
		reviewer:    opts.Reviewer,
		synthesizer: opts.Synthesizer,
		maxParallel: opts.MaxParallel,
		sink:        opts.Store,
		log:         log.Named("scheduler"),
	}
}

// Run executes a task to completion. It blocks until the task reaches
// Completed or Failed.
func (s *Scheduler) Run(ctx context.Context, task *Task) error {
	task.setStatus(TaskPlanning)
	task.AddLog("Phase 1: Task decomposition...")

	plan := s.planner.Plan(ctx, task.Description)
	subtasks := plan.Materialize()
	task.mu.Lock()
	task.Plan = plan
	task.Subtasks = subtasks
	task.mu.Unlock()
	task.AddLog("Plan received: %d subtask(s)", len(subtasks))
	for _, st := range subtasks {
		task.AddLog("  Subtask [%s]: %s", st.ID, st.AgentType)
	}

	if err := ValidateGraph(subtasks); err != nil {
		s.failTask(task, err)
		return err
	}

	missionID, agentIDs := s.recordPlan(task)

	task.setStatus(TaskExecuting)
	task.AddLog("Phase 2: Executing subtasks...")
	s.runWaves(ctx, task, missionID, agentIDs)

	task.setStatus(TaskSynthesizing)
	task.AddLog("Phase 3: Synthesizing results...")
	final := s.synthesizer.Synthesize(ctx, task.Description, task.Subtasks)

	task.mu.Lock()
	task.FinalResult = final
	task.mu.Unlock()
	task.setStatus(TaskCompleted)
	task.AddLog("Task completed")

	if s.sink != nil && missionID != "" {
		s.sink.Missions.UpdateMissionStatus(missionID, store.MissionCompleted, &final, nil)
		s.sink.Events.Append(missionID, "", "task.completed", task.Description)
	}
	return nil
}

func (s *Scheduler) failTask(task *Task, err error) {
	task.mu.Lock()
	task.Error = err.Error()
	task.mu.Unlock()
	task.setStatus(TaskFailed)
	task.AddLog("Task failed: %v", err)
	s.log.Error("task failed", "task", task.ID, "error", err)
}

// recordPlan mirrors the task into the durable store. Store failures
// are logged and otherwise ignored: persistence is an observer, not a
// participant.
func (s *Scheduler) recordPlan(task *Task) (string, map[string]string) {
	if s.sink == nil {
		return "", nil
	}

	missionID, err := s.sink.Missions.CreateMission(task.Description)
	if err != nil {
		s.log.Warn("mission record failed", "error", err)
		return "", nil
	}
	s.sink.Missions.UpdateMissionStatus(missionID, store.MissionActive, nil, nil)
	s.sink.Events.Append(missionID, "", "task.planned", fmt.Sprintf("%d subtask(s)", len(task.Subtasks)))

	agentIDs := make(map[string]string, len(task.Subtasks))
	for _, st := range task.Subtasks {
		id, err := s.sink.Agents.CreateAgent(missionID, st.ID, st.Description, st.AgentType, st.DependsOn)
		if err != nil {
			s.log.Warn("agent record failed", "subtask", st.ID, "error", err)
			continue
		}
		agentIDs[st.ID] = id
	}
	return missionID, agentIDs
}

// runWaves executes subtasks in dependency order. Each wave is the set
// of Pending subtasks whose dependencies all completed; waves run with
// at most maxParallel subtasks in flight. The iteration cap guards
// against scheduler bugs, not against user input: ValidateGraph already
// rejected cycles.
func (s *Scheduler) runWaves(ctx context.Context, task *Task, missionID string, agentIDs map[string]string) {
	completed := make(map[string]bool)
	maxIterations := len(task.Subtasks) + 5

	byID := make(map[string]*Subtask, len(task.Subtasks))
	for _, st := range task.Subtasks {
		byID[st.ID] = st
	}

	for i := 0; i < maxIterations; i++ {
		ready := readySet(task.Subtasks, completed)
		if len(ready) == 0 {
			// Remaining Pending subtasks sit behind a failed
			// dependency. They stay Pending; synthesis reports them
			// as unresolved.
			for _, st := range task.Subtasks {
				if st.Status == SubtaskPending && blocked(st, byID) {
					task.AddLog("  Subtask [%s] blocked by a failed dependency", st.ID)
				}
			}
			break
		}

		task.AddLog("Executing %d subtask(s) in parallel...", len(ready))

		var wg sync.WaitGroup
		sem := make(chan struct{}, s.maxParallel)
		for _, st := range ready {
			wg.Add(1)
			go func(st *Subtask) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				s.runSubtask(ctx, task, st, missionID, agentIDs[st.ID])
			}(st)
		}
		wg.Wait()

		for _, st := range ready {
			if st.Status == SubtaskCompleted {
				completed[st.ID] = true
			}
		}
	}
}

func (s *Scheduler) runSubtask(ctx context.Context, task *Task, st *Subtask, missionID, agentID string) {
	now := time.Now().UTC()
	task.mu.Lock()
	st.Status = SubtaskDispatching
	st.StartedAt = &now
	task.mu.Unlock()
	task.AddLog("  Subtask [%s] dispatching to %s...", st.ID, s.backend.Name())

	prompt := s.buildPrompt(task, st)

	task.mu.Lock()
	st.Status = SubtaskExecuting
	task.mu.Unlock()
	s.recordAgent(missionID, agentID, string(SubtaskExecuting), nil, nil)

	result, err := s.backend.Execute(ctx, st, prompt)
	if err != nil {
		berr := &BackendError{Backend: s.backend.Name(), Err: err}
		s.finishSubtask(task, st, SubtaskFailed, "", berr.Error())
		task.AddLog("  Subtask [%s] failed: %v", st.ID, berr)
		errMsg := berr.Error()
		s.recordAgent(missionID, agentID, string(SubtaskFailed), nil, &errMsg)
		return
	}

	task.mu.Lock()
	st.Result = result
	task.mu.Unlock()

	if s.reviewer != nil {
		task.mu.Lock()
		st.Status = SubtaskReviewing
		task.mu.Unlock()
		review, rerr := s.reviewer.Review(ctx, task.Description, st)
		switch {
		case rerr != nil:
			s.log.Warn("review failed, accepting result", "subtask", st.ID, "error", rerr)
		case review.Verdict == VerdictRequestChanges:
			// Advisory only: the verdict is recorded but the result
			// stands.
			task.AddLog("  Subtask [%s] review requested changes: %s", st.ID, review.Notes)
			if s.sink != nil && missionID != "" {
				s.sink.Events.Append(missionID, agentID, "review.changes_requested", review.Notes)
			}
		default:
			task.AddLog("  Subtask [%s] review approved", st.ID)
		}
	}

	s.finishSubtask(task, st, SubtaskCompleted, result, "")
	task.AddLog("  Subtask [%s] completed (%d chars)", st.ID, len(result))
	s.recordAgent(missionID, agentID, string(SubtaskCompleted), &result, nil)
}

func (s *Scheduler) finishSubtask(task *Task, st *Subtask, status SubtaskStatus, result, errMsg string) {
	now := time.Now().UTC()
	task.mu.Lock()
	st.Status = status
	if result != "" {
		st.Result = result
	}
	st.Error = errMsg
	st.CompletedAt = &now
	task.mu.Unlock()
}

func (s *Scheduler) recordAgent(missionID, agentID, status string, result, errMsg *string) {
	if s.sink == nil || agentID == "" {
		return
	}
	if err := s.sink.Agents.UpdateAgentStatus(agentID, status, result, errMsg); err != nil {
		s.log.Warn("agent status update failed", "agent", agentID, "error", err)
	}
	s.sink.Events.Append(missionID, agentID, "agent."+status, "")
}

// buildPrompt assembles the backend prompt: dependency results first,
// then the subtask's own description.
func (s *Scheduler) buildPrompt(task *Task, st *Subtask) string {
	var parts []string
	task.mu.Lock()
	for _, depID := range st.DependsOn {
		dep := task.Subtask(depID)
		if dep != nil && dep.Result != "" {
			parts = append(parts, fmt.Sprintf("Result from [%s] (%s):\n%s", dep.ID, dep.AgentType, dep.Result))
		}
	}
	task.mu.Unlock()

	if len(parts) == 0 {
		return st.Description
	}
	return "Context from previous subtasks:\n" +
		strings.Join(parts, "\n---\n") +
		"\n\n---\nYour task:\n" + st.Description
}
