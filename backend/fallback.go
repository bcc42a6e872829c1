package backend

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"foreman/scheduler"
)

// Fallback tries a primary backend and, on any error, retries the same
// subtask on a secondary. The remote-session backend chained over the
// direct-model backend is the standard arrangement.
type Fallback struct {
	primary   scheduler.Backend
	secondary scheduler.Backend
	log       hclog.Logger
}

func NewFallback(primary, secondary scheduler.Backend, log hclog.Logger) *Fallback {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log.Named("backend.fallback")}
}

func (f *Fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *Fallback) Execute(ctx context.Context, st *scheduler.Subtask, prompt string) (string, error) {
	result, err := f.primary.Execute(ctx, st, prompt)
	if err == nil {
		return result, nil
	}
	f.log.Warn("primary backend failed, falling back",
		"subtask", st.ID, "primary", f.primary.Name(), "secondary", f.secondary.Name(), "error", err)
	return f.secondary.Execute(ctx, st, prompt)
}
