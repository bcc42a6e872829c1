package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ChatJSON sends a chat request and unmarshals the model's reply into out.
// Models routinely wrap JSON in markdown fences, so those are stripped
// before decoding.
func ChatJSON(ctx context.Context, p Provider, req *ChatRequest, out any) error {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return err
	}

	cleaned := StripFences(resp.Content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("decoding model JSON output: %w", err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence (``` or ```json)
// from s, if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
