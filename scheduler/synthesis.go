package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"foreman/llm"
)

const synthesisSystemPrompt = `You are the master orchestrator. You delegated subtasks to expert agents and now have their results.

Your job is to:
1. Review all subtask results
2. Synthesize them into a coherent, complete response
3. Identify any issues or conflicts between results
4. Provide the final integrated solution

Original task: %s

Subtask results:
%s

Provide a clear, well-organized final response that integrates all the expert agents' work. If there are conflicts or issues, note them and provide your recommended resolution.`

const (
	synthesisTemperature = 0.3
	synthesisMaxTokens   = 8192
)

// Synthesizer folds all subtask results into one final answer. When the
// oracle is unavailable it degrades to a deterministic concatenation so
// a task that ran its subtasks never loses their output.
type Synthesizer struct {
	provider llm.Provider
	model    string
	log      hclog.Logger
}

func NewSynthesizer(provider llm.Provider, model string, log hclog.Logger) *Synthesizer {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Synthesizer{provider: provider, model: model, log: log.Named("synthesizer")}
}

// Synthesize produces the final result for a task from its subtasks.
func (s *Synthesizer) Synthesize(ctx context.Context, description string, subtasks []*Subtask) string {
	var results []string
	for _, st := range subtasks {
		status := "failed"
		if st.Status == SubtaskCompleted {
			status = "completed"
		}
		text := st.Result
		if text == "" {
			text = st.Error
		}
		if text == "" {
			text = "No output"
		}
		results = append(results, fmt.Sprintf("[%s] (%s, %s):\n%s", st.ID, st.AgentType, status, text))
	}

	system := fmt.Sprintf(synthesisSystemPrompt, description, strings.Join(results, "\n\n---\n\n"))

	req := &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, system),
			llm.NewTextMessage(llm.RoleUser, "Please synthesize the results from all expert agents into a final, integrated response."),
		},
		Temperature: synthesisTemperature,
		MaxTokens:   synthesisMaxTokens,
	}

	resp, err := s.provider.Chat(ctx, req)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		s.log.Warn("synthesis oracle failed, concatenating subtask results", "error", err)
		return concatResults(subtasks)
	}
	return resp.Content
}

func concatResults(subtasks []*Subtask) string {
	var sections []string
	for _, st := range subtasks {
		text := st.Result
		if text == "" {
			text = st.Error
		}
		if text == "" {
			text = "No output"
		}
		sections = append(sections, fmt.Sprintf("## %s: %s\n\n%s", st.AgentType, st.Description, text))
	}
	return strings.Join(sections, "\n\n---\n\n")
}
