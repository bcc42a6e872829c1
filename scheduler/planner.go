// Package scheduler turns a natural language task into a dependency
// graph of subtasks and drives it to completion: a planning oracle
// produces the graph, waves of ready subtasks run in parallel against
// a backend, an advisory reviewer inspects each result, and a
// synthesis pass folds everything into one final answer.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"foreman/llm"
	"foreman/template"
)

const planningSystemPrompt = `You are the master orchestrator. You manage a team of expert AI agents.

When given a coding task, you must:
1. Analyze the task and break it into subtasks
2. For each subtask, specify which type of expert agent should handle it
3. Identify dependencies between subtasks (which must complete before others can start)

Available agent types:
%s

Respond with a JSON object in this exact format:
{
    "analysis": "Brief analysis of the task",
    "subtasks": [
        {
            "id": "subtask-1",
            "description": "Detailed description of what this subtask should accomplish, including specific requirements and expected output",
            "agent_type": "python-backend",
            "depends_on": []
        },
        {
            "id": "subtask-2",
            "description": "Detailed description...",
            "agent_type": "react-frontend",
            "depends_on": ["subtask-1"]
        }
    ]
}

Rules:
- Each subtask must be self-contained enough for an expert agent to execute independently
- Use depends_on to specify ordering when a subtask needs results from another
- Choose the most specific agent type for each subtask
- Keep subtasks focused, preferring more smaller subtasks over fewer large ones
- Include enough detail in each description that the expert agent can work without additional context`

const (
	planningTemperature = 0.3
	planningMaxTokens   = 4096
)

// PlanSubtask is one planned node as returned by the oracle.
type PlanSubtask struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	AgentType   string   `json:"agent_type"`
	DependsOn   []string `json:"depends_on"`
}

// Plan is the oracle's decomposition of a task.
type Plan struct {
	Analysis string        `json:"analysis"`
	Subtasks []PlanSubtask `json:"subtasks"`
}

// Planner asks a model to decompose a task into subtasks. Oracle
// failures and empty plans degrade to a single-subtask plan typed by
// keyword match, so planning itself never fails a task.
type Planner struct {
	provider  llm.Provider
	model     string
	templates *template.Registry
	log       hclog.Logger
}

func NewPlanner(provider llm.Provider, model string, templates *template.Registry, log hclog.Logger) *Planner {
	if templates == nil {
		templates = template.NewRegistry()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Planner{
		provider:  provider,
		model:     model,
		templates: templates,
		log:       log.Named("planner"),
	}
}

// Plan decomposes a task description into a subtask plan.
func (p *Planner) Plan(ctx context.Context, description string) *Plan {
	var lines []string
	for _, t := range p.templates.List() {
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Type, t.Description))
	}
	system := fmt.Sprintf(planningSystemPrompt, strings.Join(lines, "\n"))

	req := &llm.ChatRequest{
		Model: p.model,
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, system),
			llm.NewTextMessage(llm.RoleUser, "Task: "+description),
		},
		Temperature: planningTemperature,
		MaxTokens:   planningMaxTokens,
	}

	var plan Plan
	if err := llm.ChatJSON(ctx, p.provider, req, &plan); err != nil {
		p.log.Error("planning oracle failed, falling back to single subtask", "error", err)
		return p.fallback(description, fmt.Sprintf("Planning failed (%v), executing as single task", err))
	}
	if len(plan.Subtasks) == 0 {
		p.log.Warn("planning oracle returned empty plan, falling back to single subtask")
		return p.fallback(description, "Planner returned no subtasks, executing as single task")
	}
	return &plan
}

func (p *Planner) fallback(description, analysis string) *Plan {
	return &Plan{
		Analysis: analysis,
		Subtasks: []PlanSubtask{{
			ID:          "subtask-1",
			Description: description,
			AgentType:   p.templates.Match(description),
			DependsOn:   []string{},
		}},
	}
}

// Materialize turns a plan into the subtasks a task will execute.
func (p *Plan) Materialize() []*Subtask {
	subtasks := make([]*Subtask, 0, len(p.Subtasks))
	for _, ps := range p.Subtasks {
		subtasks = append(subtasks, &Subtask{
			ID:          ps.ID,
			Description: ps.Description,
			AgentType:   ps.AgentType,
			DependsOn:   ps.DependsOn,
			Status:      SubtaskPending,
		})
	}
	return subtasks
}
