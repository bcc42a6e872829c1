// Package backend provides the interchangeable execution strategies a
// scheduler dispatches subtasks to: a remote agent session reached
// through the gateway, a direct one-shot model call, and a variant of
// the direct call that applies structured file changes inside an
// isolated git worktree.
package backend

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"foreman/llm"
	"foreman/scheduler"
	"foreman/template"
)

const (
	directTemperature = 0.2
	directMaxTokens   = 8192
)

// DirectModel executes a subtask with a single stateless model call,
// using the template registry for the role-specific system prompt.
type DirectModel struct {
	provider  llm.Provider
	model     string
	templates *template.Registry
	log       hclog.Logger
}

func NewDirectModel(provider llm.Provider, model string, templates *template.Registry, log hclog.Logger) *DirectModel {
	if templates == nil {
		templates = template.NewRegistry()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &DirectModel{
		provider:  provider,
		model:     model,
		templates: templates,
		log:       log.Named("backend.direct"),
	}
}

func (d *DirectModel) Name() string { return "direct-model" }

func (d *DirectModel) Execute(ctx context.Context, st *scheduler.Subtask, prompt string) (string, error) {
	tpl := d.templates.Get(st.AgentType)
	if tpl == nil {
		tpl = d.templates.Get(template.DefaultType)
	}

	req := &llm.ChatRequest{
		Model: d.model,
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, tpl.SystemPrompt),
			llm.NewTextMessage(llm.RoleUser, prompt),
		},
		Temperature: directTemperature,
		MaxTokens:   directMaxTokens,
	}

	resp, err := d.provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	d.log.Debug("subtask executed", "subtask", st.ID, "agent_type", tpl.Type, "chars", len(resp.Content))
	return resp.Content, nil
}
