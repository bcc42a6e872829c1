package scheduler

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"foreman/llm"
)

const reviewSystemPrompt = `You are a senior engineer reviewing the output of an expert AI agent.

Given the original task, the subtask the agent was assigned, and the agent's output, decide whether the output fulfills the subtask.

Respond with a JSON object in this exact format:
{
    "verdict": "approve" or "request_changes",
    "notes": "One or two sentences explaining the verdict"
}`

const (
	reviewTemperature = 0.2
	reviewMaxTokens   = 1024

	// Output sent to the reviewer is truncated to keep the prompt bounded.
	reviewOutputLimit = 8000
)

const (
	VerdictApprove        = "approve"
	VerdictRequestChanges = "request_changes"
)

// Review is the reviewer's verdict on one subtask result.
type Review struct {
	Verdict string `json:"verdict"`
	Notes   string `json:"notes"`
}

// Reviewer runs an advisory check over each subtask result. The verdict
// never changes the subtask's outcome: a request_changes is logged and
// recorded, nothing more. Reviewer failures are swallowed the same way.
type Reviewer struct {
	provider llm.Provider
	model    string
	log      hclog.Logger
}

func NewReviewer(provider llm.Provider, model string, log hclog.Logger) *Reviewer {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Reviewer{provider: provider, model: model, log: log.Named("reviewer")}
}

// Review asks the oracle whether a subtask's output fulfills it.
func (r *Reviewer) Review(ctx context.Context, taskDescription string, st *Subtask) (*Review, error) {
	output := st.Result
	if len(output) > reviewOutputLimit {
		output = output[:reviewOutputLimit] + "\n[output truncated]"
	}

	user := fmt.Sprintf("Original task:\n%s\n\nSubtask (%s):\n%s\n\nAgent output:\n%s",
		taskDescription, st.AgentType, st.Description, output)

	req := &llm.ChatRequest{
		Model: r.model,
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, reviewSystemPrompt),
			llm.NewTextMessage(llm.RoleUser, user),
		},
		Temperature: reviewTemperature,
		MaxTokens:   reviewMaxTokens,
	}

	var review Review
	if err := llm.ChatJSON(ctx, r.provider, req, &review); err != nil {
		return nil, err
	}
	return &review, nil
}
