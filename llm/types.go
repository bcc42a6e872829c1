package llm

import "context"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single conversation turn.
type Message struct {
	Role    Role
	Content string
}

// NewTextMessage creates a simple text-only message
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: text}
}

type ChatRequest struct {
	Model         string
	Messages      []Message
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}

type ChatResponse struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is the surface the planner and direct execution paths need
// from a model backend.
type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
