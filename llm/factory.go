package llm

import (
	"context"
	"fmt"
)

// NewProvider builds a Provider for a configured model block.
func NewProvider(ctx context.Context, provider, apiKey string) (Provider, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "openrouter":
		return NewOpenRouterProvider(apiKey), nil
	case "gemini":
		return NewGeminiProvider(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}
