// Package inference wraps the opaque model provider. It assembles prompts
// from retrieved context under a fixed token budget, enforces a call
// deadline, and normalizes the provider's certainty signal into [0,1]
// (or nil when the provider exposes none). No gating or scoring logic lives
// here.
package inference

import (
	"context"
	"errors"
	"fmt"

	"pairpilot/internal/config"
	"pairpilot/internal/logging"
	"pairpilot/internal/types"
)

// Completion is one provider response.
type Completion struct {
	Text string

	// RawSignal is the provider-agnostic certainty measure in [0,1], nil
	// when the provider exposes nothing usable.
	RawSignal *float64
}

// Client is a single model provider backend.
type Client interface {
	// Complete sends a prompt and returns the completion.
	Complete(ctx context.Context, prompt string) (Completion, error)

	// Name identifies the backend for diagnostics.
	Name() string
}

// Adapter wraps a Client with prompt assembly and deadline enforcement.
type Adapter struct {
	client Client
	cfg    config.InferenceConfig
}

// NewAdapter builds the adapter and its backend from configuration.
func NewAdapter(cfg config.InferenceConfig) (*Adapter, error) {
	var client Client
	switch cfg.Provider {
	case "ollama", "":
		client = NewOllamaClient(cfg.Endpoint, cfg.Model)
	case "openai":
		client = NewOpenAIClient(cfg.Endpoint, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
	}
	return &Adapter{client: client, cfg: cfg}, nil
}

// NewAdapterWithClient wires a pre-built backend; used by tests and custom
// deployments.
func NewAdapterWithClient(client Client, cfg config.InferenceConfig) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

// Complete assembles the prompt from the query and retrieved context and
// calls the provider under the configured deadline. A blown deadline returns
// ErrProviderTimeout; callers reject the suggestion rather than crash or
// retry. The assembled prompt is returned alongside the completion so it can
// be recorded as the suggestion's prompt context.
func (a *Adapter) Complete(ctx context.Context, query string, retrieved types.RetrievalResult) (Completion, string, error) {
	prompt := BuildPrompt(query, retrieved, a.cfg.MaxPromptTokens)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout())
	defer cancel()

	logging.Get(logging.CategoryInference).Debugf("completion via %s, prompt ~%d tokens",
		a.client.Name(), EstimateTokens(prompt))

	out, err := a.client.Complete(callCtx, prompt)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Completion{}, prompt, fmt.Errorf("%w: %s exceeded %s", types.ErrProviderTimeout, a.client.Name(), a.cfg.Timeout())
		}
		return Completion{}, prompt, fmt.Errorf("provider %s failed: %w", a.client.Name(), err)
	}
	return out, prompt, nil
}

// EstimateTokens approximates token count at four bytes per token. Good
// enough for budget enforcement; exact tokenization is provider-private.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
