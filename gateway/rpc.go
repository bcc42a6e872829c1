package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status returns the gateway status snapshot.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "status", nil, &out)
	return out, err
}

// Health returns the gateway health report.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "health", nil, &out)
	return out, err
}

// Agents lists the agents the gateway hosts.
func (c *Client) Agents(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "agents.list", nil, &out)
	return out, err
}

// Sessions lists active sessions.
func (c *Client) Sessions(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "sessions.list", nil, &out)
	return out, err
}

// Models lists the models available behind the gateway.
func (c *Client) Models(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	err := c.Request(ctx, "models.list", nil, &out)
	return out, err
}

type fileReadParams struct {
	Path string `json:"path"`
}

type fileReadResult struct {
	Content string `json:"content"`
}

type fileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ReadFile reads a file from the agent workspace.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	var result fileReadResult
	if err := c.Request(ctx, "files.read", &fileReadParams{Path: path}, &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

// WriteFile writes a file into the agent workspace.
func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	return c.Request(ctx, "files.write", &fileWriteParams{Path: path, Content: content}, nil)
}

// GatewayConfig is the result of config.get: the raw config text, its
// parsed form, and a hash used for optimistic concurrency on updates.
type GatewayConfig struct {
	Raw    string         `json:"raw"`
	Parsed map[string]any `json:"parsed"`
	Hash   string         `json:"hash"`
	Issues []any          `json:"issues,omitempty"`
}

// ConfigGet fetches the gateway's configuration.
func (c *Client) ConfigGet(ctx context.Context) (*GatewayConfig, error) {
	var out GatewayConfig
	if err := c.Request(ctx, "config.get", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type configSetParams struct {
	Raw      string `json:"raw"`
	BaseHash string `json:"baseHash,omitempty"`
}

// ConfigSet replaces the gateway configuration. baseHash should come
// from a prior ConfigGet so concurrent edits are detected.
func (c *Client) ConfigSet(ctx context.Context, raw, baseHash string) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "config.set", &configSetParams{Raw: raw, BaseHash: baseHash}, &out)
	return out, err
}

type configPatchParams struct {
	Raw            string `json:"raw"`
	BaseHash       string `json:"baseHash"`
	RestartDelayMs int    `json:"restartDelayMs"`
}

// ConfigPatch merges keys into the existing configuration. The gateway
// restarts after applying the patch.
func (c *Client) ConfigPatch(ctx context.Context, raw, baseHash string, restartDelayMs int) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "config.patch", &configPatchParams{
		Raw:            raw,
		BaseHash:       baseHash,
		RestartDelayMs: restartDelayMs,
	}, &out)
	return out, err
}

// AgentSpec describes an agent to create on the gateway.
type AgentSpec struct {
	ID        string
	Name      string
	Model     string
	Workspace string
	Identity  map[string]any
	Sandbox   map[string]any
}

// CreateAgent registers a new agent by patching the gateway config:
// fetch config and hash, append the agent entry, patch. The gateway
// restarts to pick up the new agent.
func (c *Client) CreateAgent(ctx context.Context, spec *AgentSpec) (map[string]any, error) {
	cfg, err := c.ConfigGet(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}

	entry := map[string]any{"id": spec.ID}
	if spec.Name != "" {
		entry["name"] = spec.Name
	}
	if spec.Workspace != "" {
		entry["workspace"] = spec.Workspace
	} else {
		entry["workspace"] = "~/.openclaw/workspace-" + spec.ID
	}
	if spec.Model != "" {
		entry["model"] = spec.Model
	}
	if spec.Identity != nil {
		entry["identity"] = spec.Identity
	}
	if spec.Sandbox != nil {
		entry["sandbox"] = spec.Sandbox
	}
	entry["subagents"] = map[string]any{"allowAgents": []string{"*"}}

	var list []any
	if agents, ok := cfg.Parsed["agents"].(map[string]any); ok {
		if existing, ok := agents["list"].([]any); ok {
			list = existing
		}
	}
	for _, a := range list {
		if m, ok := a.(map[string]any); ok && m["id"] == spec.ID {
			return nil, fmt.Errorf("agent %q already exists", spec.ID)
		}
	}
	list = append(list, entry)

	patch := map[string]any{"agents": map[string]any{"list": list}}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}

	c.log.Info("creating agent via config.patch", "agent", spec.ID)
	return c.ConfigPatch(ctx, string(raw), cfg.Hash, 2000)
}

type agentFilesParams struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
}

// AgentFiles lists an agent's workspace files (persona files and such).
func (c *Client) AgentFiles(ctx context.Context, agentID string) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "agents.files.list", &agentFilesParams{AgentID: agentID}, &out)
	return out, err
}

// AgentFile fetches one agent file by name.
func (c *Client) AgentFile(ctx context.Context, agentID, name string) (map[string]any, error) {
	var out map[string]any
	err := c.Request(ctx, "agents.files.get", &agentFilesParams{AgentID: agentID, Name: name}, &out)
	return out, err
}

// SetAgentFile writes one agent file.
func (c *Client) SetAgentFile(ctx context.Context, agentID, name, content string) error {
	return c.Request(ctx, "agents.files.set", &agentFilesParams{AgentID: agentID, Name: name, Content: content}, nil)
}
