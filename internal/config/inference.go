package config

import (
	"fmt"
	"time"
)

// InferenceConfig configures the model provider adapter.
type InferenceConfig struct {
	// Provider: "ollama" (local) or "openai" (any OpenAI-compatible server).
	Provider string `yaml:"provider"`

	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	// TimeoutSeconds bounds a single completion call. Exceeding it rejects
	// the suggestion with a provider_timeout reason.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxPromptTokens caps the assembled prompt; retrieved chunks are dropped
	// lowest-relevance-first once the budget is exceeded.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`
}

// DefaultInference targets a local Ollama server.
func DefaultInference() InferenceConfig {
	return InferenceConfig{
		Provider:        "ollama",
		Endpoint:        "http://localhost:11434",
		Model:           "qwen2.5-coder",
		TimeoutSeconds:  60,
		MaxPromptTokens: 4096,
	}
}

// Timeout returns the call deadline as a duration.
func (i InferenceConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// Validate checks ranges.
func (i InferenceConfig) Validate() error {
	switch i.Provider {
	case "ollama", "openai", "":
	default:
		return fmt.Errorf("unsupported inference provider: %s (use 'ollama' or 'openai')", i.Provider)
	}
	if i.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be >= 1")
	}
	if i.MaxPromptTokens < 256 {
		return fmt.Errorf("max_prompt_tokens must be >= 256")
	}
	return nil
}
