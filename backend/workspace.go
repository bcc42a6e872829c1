package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"foreman/llm"
	"foreman/scheduler"
	"foreman/workspace"
)

const workspaceSystemPrompt = `You are a specialized AI coding agent working on a specific task within a larger project.

Your task: %s
Description: %s

You are working in an isolated git branch. The repository layout:
%s

When you need to make changes, output them in the following JSON format:

{
  "analysis": "Brief analysis of what needs to be done",
  "changes": [
    {
      "file_path": "relative/path/to/file.py",
      "action": "modify",
      "content": "The complete new file content"
    },
    {
      "file_path": "relative/path/to/new_file.py",
      "action": "create",
      "content": "The complete file content"
    }
  ],
  "summary": "Summary of changes made"
}

Rules:
- Output ONLY valid JSON, no other text
- For "modify" actions, provide the COMPLETE new file content
- For "create" actions, provide the full file content
- Be precise and make minimal, focused changes
- Do not add unnecessary comments or modifications outside the task scope`

// FileChange is one structured edit produced by a workspace agent.
type FileChange struct {
	FilePath string `json:"file_path"`
	Action   string `json:"action"`
	Content  string `json:"content"`
}

// AgentChanges is the structured response of a workspace agent run.
type AgentChanges struct {
	Analysis string       `json:"analysis"`
	Changes  []FileChange `json:"changes"`
	Summary  string       `json:"summary"`
}

// Workspace executes a subtask inside a dedicated git worktree: a
// direct model call constrained to structured file changes, which are
// applied and committed on the subtask's own branch. Output that fails
// to parse as changes is treated as "no changes produced", not as an
// error.
type Workspace struct {
	provider llm.Provider
	model    string
	manager  *workspace.Manager
	log      hclog.Logger
}

func NewWorkspace(provider llm.Provider, model string, manager *workspace.Manager, log hclog.Logger) *Workspace {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Workspace{
		provider: provider,
		model:    model,
		manager:  manager,
		log:      log.Named("backend.workspace"),
	}
}

func (w *Workspace) Name() string { return "isolated-workspace" }

// Branch returns the branch a subtask's work lands on.
func (w *Workspace) Branch(st *scheduler.Subtask) string {
	return "agent/" + st.ID
}

// Worktree returns the path a subtask's worktree occupies once Execute
// has created it.
func (w *Workspace) Worktree(st *scheduler.Subtask) string {
	return w.manager.WorktreePath(w.Branch(st))
}

func (w *Workspace) Execute(ctx context.Context, st *scheduler.Subtask, prompt string) (string, error) {
	branch := w.Branch(st)
	worktree, err := w.manager.CreateWorktree(ctx, branch)
	if err != nil {
		return "", fmt.Errorf("create worktree: %w", err)
	}

	system := fmt.Sprintf(workspaceSystemPrompt, st.ID, st.Description, w.manager.FileTree("", 3))
	req := &llm.ChatRequest{
		Model: w.model,
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, system),
			llm.NewTextMessage(llm.RoleUser, prompt),
		},
		Temperature: directTemperature,
		MaxTokens:   directMaxTokens,
	}

	resp, err := w.provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}

	changes, perr := parseChanges(resp.Content)
	if perr != nil {
		w.log.Warn("agent output not parseable as changes", "subtask", st.ID, "error", perr)
		return resp.Content, nil
	}

	applied := 0
	for _, ch := range changes.Changes {
		if ch.FilePath == "" || ch.Content == "" {
			continue
		}
		if err := w.manager.WriteFile(worktree, ch.FilePath, ch.Content); err != nil {
			return "", fmt.Errorf("apply %s %s: %w", ch.Action, ch.FilePath, err)
		}
		w.log.Info("change applied", "subtask", st.ID, "action", ch.Action, "path", ch.FilePath)
		applied++
	}

	var commit string
	if applied > 0 {
		message := fmt.Sprintf("[%s] %s", st.AgentType, firstLine(st.Description))
		commit, err = w.manager.CommitAll(ctx, worktree, message)
		if err != nil {
			return "", fmt.Errorf("commit changes: %w", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Applied %d change(s) on branch %s", applied, branch)
	if commit != "" {
		fmt.Fprintf(&b, "\nCommit: %s", commit)
	}
	if changes.Summary != "" {
		fmt.Fprintf(&b, "\n\n%s", changes.Summary)
	}
	return b.String(), nil
}

func parseChanges(raw string) (*AgentChanges, error) {
	var changes AgentChanges
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &changes); err != nil {
		return nil, err
	}
	return &changes, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 72 {
		s = s[:72]
	}
	return s
}
