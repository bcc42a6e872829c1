package config

import "fmt"

type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderGemini     Provider = "gemini"
)

var supportedProviders = map[Provider]bool{
	ProviderAnthropic:  true,
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
	ProviderGemini:     true,
}

// Model names one model the orchestrator can call, with its provider
// and credentials.
type Model struct {
	Name     string   `hcl:"name,label"`
	Provider Provider `hcl:"provider"`
	ModelID  string   `hcl:"model_id"`
	APIKey   string   `hcl:"api_key"`
}

func (m *Model) Validate() error {
	if !supportedProviders[m.Provider] {
		return fmt.Errorf("Unsupported provider; Provider '%s' is not supported. Supported providers: anthropic, openai, openrouter, gemini", m.Provider)
	}
	if m.ModelID == "" {
		return fmt.Errorf("Missing model_id; Model '%s' must set model_id", m.Name)
	}
	if m.APIKey == "" {
		return fmt.Errorf("Missing api_key; Model '%s' must set api_key", m.Name)
	}
	return nil
}
