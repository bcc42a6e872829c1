package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := p.client.GenerativeModel(req.Model)

	systemContent := p.extractSystemPrompts(req.Messages)
	if systemContent != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemContent))
	}

	chat := model.StartChat()
	chat.History = p.convertHistory(req.Messages)

	resp, err := chat.SendMessage(ctx, p.lastUserPart(req.Messages))
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		ID:           uuid.New().String(),
		Content:      p.extractContent(resp),
		FinishReason: string(resp.Candidates[0].FinishReason),
		Usage: Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		},
	}, nil
}

func (p *GeminiProvider) extractSystemPrompts(messages []Message) string {
	var system string
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		}
	}
	return system
}

// convertHistory maps everything except system messages and the final user
// message, which Gemini takes separately.
func (p *GeminiProvider) convertHistory(messages []Message) []*genai.Content {
	nonSystem := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleSystem {
			nonSystem = append(nonSystem, m)
		}
	}
	if len(nonSystem) > 0 {
		nonSystem = nonSystem[:len(nonSystem)-1]
	}

	var history []*genai.Content
	for _, m := range nonSystem {
		var role string
		switch m.Role {
		case RoleUser:
			role = "user"
		case RoleAssistant:
			role = "model"
		default:
			continue
		}

		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	return history
}

func (p *GeminiProvider) lastUserPart(messages []Message) genai.Part {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return genai.Text(messages[i].Content)
		}
	}
	return genai.Text("")
}

func (p *GeminiProvider) extractContent(resp *genai.GenerateContentResponse) string {
	var content string
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				content += fmt.Sprintf("%v", part)
			}
		}
	}
	return content
}
