package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultChatTimeout bounds the wait for an agent reply.
	DefaultChatTimeout = 180 * time.Second

	chatPollStep = 300 * time.Millisecond
	chatPollMax  = 3 * time.Second

	// After this many consecutive polls with no new messages the poll
	// settles for any non-empty agent message.
	maxIdlePolls = 20
)

// ChatMessage is one entry of a session's chat history. Content arrives
// either as a plain string or as a list of typed parts.
type ChatMessage struct {
	Role         string          `json:"role"`
	Model        string          `json:"model,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	StopReason   string          `json:"stopReason,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text flattens the message content to plain text.
func (m *ChatMessage) Text() string {
	if len(m.Content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}

	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasContent reports whether the message has non-empty text.
func (m *ChatMessage) HasContent() bool {
	return strings.TrimSpace(m.Text()) != ""
}

// IsError reports whether the message marks a provider-side failure.
func (m *ChatMessage) IsError() bool {
	return m.StopReason == "error" || m.ErrorMessage != ""
}

type chatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
}

type chatHistoryResult struct {
	Messages []ChatMessage `json:"messages"`
}

type chatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	IdempotencyKey string `json:"idempotencyKey"`
	Message        string `json:"message"`
}

// ChatHistory fetches the message history of a session.
func (c *Client) ChatHistory(ctx context.Context, sessionKey string) ([]ChatMessage, error) {
	if sessionKey == "" {
		sessionKey = c.opts.SessionKey
	}
	var result chatHistoryResult
	if err := c.Request(ctx, "chat.history", &chatHistoryParams{SessionKey: sessionKey}, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// ChatSend sends a message to a session and waits for the agent's reply.
//
// chat.send itself only starts a run, so the reply is obtained by
// polling chat.history for a new agent message. Messages already in the
// history when the send is issued are never returned.
func (c *Client) ChatSend(ctx context.Context, sessionKey, message string) (*ChatMessage, error) {
	if sessionKey == "" {
		sessionKey = c.opts.SessionKey
	}

	// Snapshot the message count before sending so only genuinely new
	// messages count as the reply.
	before, err := c.ChatHistory(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("baseline history: %w", err)
	}
	baseline := len(before)

	params := &chatSendParams{
		SessionKey:     sessionKey,
		IdempotencyKey: uuid.New().String(),
		Message:        message,
	}
	var accepted map[string]any
	if err := c.Request(ctx, "chat.send", params, &accepted); err != nil {
		return nil, err
	}
	c.log.Debug("chat.send accepted", "session", sessionKey, "result", accepted)

	return c.pollForReply(ctx, sessionKey, baseline, DefaultChatTimeout)
}

// ChatAbort stops the current generation in a session.
func (c *Client) ChatAbort(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		sessionKey = c.opts.SessionKey
	}
	return c.Request(ctx, "chat.abort", &chatHistoryParams{SessionKey: sessionKey}, nil)
}

// pollForReply polls chat.history until a new agent message with text
// appears. Some agents emit tool-call messages with empty text first, so
// a growing message count resets the idle counter and keeps the poll
// fast; after maxIdlePolls quiet polls any non-empty agent message is
// accepted as the reply.
func (c *Client) pollForReply(ctx context.Context, sessionKey string, baseline int, timeout time.Duration) (*ChatMessage, error) {
	deadline := time.Now().Add(timeout)
	interval := c.opts.ChatPollInterval
	lastCount := baseline
	idlePolls := 0

	for time.Now().Before(deadline) {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		messages, err := c.ChatHistory(ctx, sessionKey)
		if err != nil {
			return nil, err
		}

		var fresh []ChatMessage
		if len(messages) > baseline {
			fresh = messages[baseline:]
		}

		// Provider failures (for example exhausted credits) surface as
		// error-marked messages; fail fast instead of burning the timeout.
		for i := len(fresh) - 1; i >= 0; i-- {
			m := &fresh[i]
			if m.Role != "user" && m.IsError() {
				errMsg := m.ErrorMessage
				if errMsg == "" {
					errMsg = "unknown provider error"
				}
				return nil, &RemoteError{Code: "PROVIDER_ERROR", Message: errMsg}
			}
		}

		for i := len(fresh) - 1; i >= 0; i-- {
			m := &fresh[i]
			if m.Role != "user" && m.Model != "" && m.HasContent() {
				return m, nil
			}
		}

		if len(messages) > lastCount {
			idlePolls = 0
			lastCount = len(messages)
			interval = c.opts.ChatPollInterval
			c.log.Debug("agent active", "session", sessionKey, "new_messages", len(messages)-baseline)
		} else {
			idlePolls++
		}

		if idlePolls >= maxIdlePolls {
			for i := len(fresh) - 1; i >= 0; i-- {
				m := &fresh[i]
				if m.Role != "user" && m.HasContent() {
					return m, nil
				}
			}
			break
		}

		interval = min(interval+chatPollStep, chatPollMax)
	}

	return nil, fmt.Errorf("no agent reply after %s: %w", timeout, ErrTimeout)
}
