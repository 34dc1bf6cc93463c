package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
)

// OpenAIClient runs completions against any OpenAI-compatible server and
// derives a certainty signal from token log-probabilities: the mean token
// probability, clamped into [0,1].
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIClient creates a client for the given endpoint and model.
func NewOpenAIClient(endpoint, apiKey, model string) *OpenAIClient {
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	// No client-side timeout: the adapter owns the deadline via context.
	return &OpenAIClient{endpoint: endpoint, apiKey: apiKey, model: model, client: &http.Client{}}
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Logprobs bool            `json:"logprobs"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Logprobs *struct {
		Content []struct {
			Logprob float64 `json:"logprob"`
		} `json:"content"`
	} `json:"logprobs"`
}

type openAIChatResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt to /v1/chat/completions with logprobs enabled.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	body, err := json.Marshal(openAIChatRequest{
		Model:    c.model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
		Logprobs: true,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return Completion{}, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != nil {
		return Completion{}, fmt.Errorf("openai error: %s (%s)", out.Error.Message, out.Error.Type)
	}
	if len(out.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai returned no choices")
	}

	choice := out.Choices[0]
	completion := Completion{Text: choice.Message.Content}
	if signal, ok := meanTokenProbability(choice); ok {
		completion.RawSignal = &signal
	}
	return completion, nil
}

// meanTokenProbability averages exp(logprob) across completion tokens.
func meanTokenProbability(choice openAIChoice) (float64, bool) {
	if choice.Logprobs == nil || len(choice.Logprobs.Content) == 0 {
		return 0, false
	}
	var sum float64
	for _, tok := range choice.Logprobs.Content {
		sum += math.Exp(tok.Logprob)
	}
	mean := sum / float64(len(choice.Logprobs.Content))
	if mean < 0 {
		mean = 0
	}
	if mean > 1 {
		mean = 1
	}
	return mean, true
}

// Name returns the backend name.
func (c *OpenAIClient) Name() string {
	return fmt.Sprintf("openai:%s", c.model)
}
