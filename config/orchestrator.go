package config

import "fmt"

// Backend modes the orchestrator block accepts.
const (
	BackendDirect    = "direct"
	BackendRemote    = "remote"
	BackendWorkspace = "workspace"
)

// Orchestrator configures the scheduler: which model plans and
// synthesizes, which backend executes subtasks, and where durable
// state lives.
type Orchestrator struct {
	Model        string `hcl:"model"`
	SubModel     string `hcl:"sub_model,optional"`
	Backend      string `hcl:"backend,optional"`
	Gateway      string `hcl:"gateway,optional"`
	MaxParallel  int    `hcl:"max_parallel,optional"`
	MaxRetries   int    `hcl:"max_retries,optional"`
	PollInterval int    `hcl:"poll_interval,optional"`
	Review       bool   `hcl:"review,optional"`
	RepoPath     string `hcl:"repo_path,optional"`
	WorktreeBase string `hcl:"worktree_base,optional"`
	Store        string `hcl:"store,optional"`
	StorePath    string `hcl:"store_path,optional"`
}

func (o *Orchestrator) Validate(models []Model, gateways []Gateway) error {
	if o.Model == "" {
		return fmt.Errorf("Missing model; Orchestrator must set model")
	}
	if !modelDefined(models, o.Model) {
		return fmt.Errorf("Unknown model; Orchestrator references undefined model '%s'", o.Model)
	}
	if o.SubModel != "" && !modelDefined(models, o.SubModel) {
		return fmt.Errorf("Unknown model; Orchestrator references undefined sub_model '%s'", o.SubModel)
	}

	switch o.Backend {
	case "", BackendDirect:
	case BackendRemote:
		if o.Gateway == "" {
			return fmt.Errorf("Missing gateway; Orchestrator backend 'remote' requires gateway")
		}
	case BackendWorkspace:
		if o.RepoPath == "" {
			return fmt.Errorf("Missing repo_path; Orchestrator backend 'workspace' requires repo_path")
		}
	default:
		return fmt.Errorf("Invalid backend; Orchestrator backend '%s' is not supported. Supported backends: direct, remote, workspace", o.Backend)
	}

	if o.Gateway != "" {
		found := false
		for _, g := range gateways {
			if g.Name == o.Gateway {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("Unknown gateway; Orchestrator references undefined gateway '%s'", o.Gateway)
		}
	}

	switch o.Store {
	case "", "memory":
	case "sqlite":
		if o.StorePath == "" {
			return fmt.Errorf("Missing store_path; Orchestrator store 'sqlite' requires store_path")
		}
	default:
		return fmt.Errorf("Invalid store; Orchestrator store '%s' is not supported. Supported stores: memory, sqlite", o.Store)
	}

	if o.MaxParallel < 0 {
		return fmt.Errorf("Invalid max_parallel; Orchestrator max_parallel cannot be negative")
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("Invalid max_retries; Orchestrator max_retries cannot be negative")
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("Invalid poll_interval; Orchestrator poll_interval cannot be negative")
	}
	return nil
}

func modelDefined(models []Model, name string) bool {
	for _, m := range models {
		if m.Name == name {
			return true
		}
	}
	return false
}
