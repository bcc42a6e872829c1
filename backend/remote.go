package backend

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"foreman/gateway"
	"foreman/scheduler"
	"foreman/template"
)

// RemoteSession executes a subtask against a live agent session on the
// gateway. Connections come from a shared pool keyed by URL, so
// subtasks targeting the same gateway reuse one session.
type RemoteSession struct {
	pool      *gateway.Pool
	opts      gateway.Options
	templates *template.Registry
	log       hclog.Logger
}

func NewRemoteSession(pool *gateway.Pool, opts gateway.Options, templates *template.Registry, log hclog.Logger) *RemoteSession {
	if templates == nil {
		templates = template.NewRegistry()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &RemoteSession{
		pool:      pool,
		opts:      opts,
		templates: templates,
		log:       log.Named("backend.remote"),
	}
}

func (r *RemoteSession) Name() string { return "remote-session" }

func (r *RemoteSession) Execute(ctx context.Context, st *scheduler.Subtask, prompt string) (string, error) {
	client, err := r.pool.Get(ctx, r.opts)
	if err != nil {
		return "", fmt.Errorf("gateway connection: %w", err)
	}

	tpl := r.templates.Get(st.AgentType)
	if tpl == nil {
		tpl = r.templates.Get(template.DefaultType)
	}

	// The remote agent keeps its own system prompt; the persona rides
	// along as a prefix on the message instead.
	message := fmt.Sprintf("You are acting as a %s agent. %s\n\n%s", tpl.Type, tpl.Description, prompt)

	reply, err := client.ChatSend(ctx, "", message)
	if err != nil {
		return "", fmt.Errorf("remote session: %w", err)
	}
	r.log.Debug("subtask executed", "subtask", st.ID, "chars", len(reply.Text()))
	return reply.Text(), nil
}
