package llm

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Spec selects and configures a decision engine.
type Spec struct {
	Provider    string   `yaml:"provider" json:"provider"` // openai, anthropic, ollama, langchain-openai
	Model       string   `yaml:"model" json:"model"`
	BaseURL     string   `yaml:"base_url" json:"base_url"`
	APIKey      string   `yaml:"api_key" json:"-"`
	APIKeyEnv   string   `yaml:"api_key_env" json:"api_key_env"`
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens" json:"max_tokens"`
}

const (
	defaultOpenAIURL = "https://api.openai.com/v1"
	defaultOllamaURL = "http://localhost:11434"
)

// key returns the explicit API key, falling back to the configured env var.
func (s Spec) key() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	if s.APIKeyEnv != "" {
		return os.Getenv(s.APIKeyEnv)
	}
	return ""
}

// Resolve builds a Client for spec.
//
// "openai" uses the native streaming client; "langchain-openai", "anthropic"
// and "ollama" go through langchaingo.
func Resolve(spec Spec) (Client, error) {
	switch spec.Provider {
	case "openai":
		key := spec.key()
		if key == "" {
			return nil, fmt.Errorf("openai provider requires api_key or api_key_env")
		}
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIURL
		}
		return NewOpenAIClient(baseURL, key, spec.Model), nil

	case "langchain-openai":
		opts := []openai.Option{openai.WithModel(spec.Model), openai.WithToken(spec.key())}
		if spec.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(spec.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("langchain openai: %w", err)
		}
		return NewLangChainClient(m), nil

	case "anthropic":
		key := spec.key()
		if key == "" {
			return nil, fmt.Errorf("anthropic provider requires api_key or api_key_env")
		}
		m, err := anthropic.New(anthropic.WithModel(spec.Model), anthropic.WithToken(key))
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		return NewLangChainClient(m), nil

	case "ollama":
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		m, err := ollama.New(ollama.WithModel(spec.Model), ollama.WithServerURL(baseURL))
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		return NewLangChainClient(m), nil

	default:
		return nil, fmt.Errorf("unknown provider: %q", spec.Provider)
	}
}
