package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pairpilot/internal/config"
	"pairpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInferenceConfig() config.InferenceConfig {
	cfg := config.DefaultInference()
	cfg.TimeoutSeconds = 1
	return cfg
}

func chunkOf(file, content string, relevance float64) types.ScoredChunk {
	return types.ScoredChunk{
		Chunk:     types.CodeChunk{FilePath: file, ByteEnd: len(content), Content: content},
		Relevance: relevance,
	}
}

func TestBuildPromptIncludesContextAndQuery(t *testing.T) {
	retrieved := types.RetrievalResult{Chunks: []types.ScoredChunk{
		chunkOf("a.go", "func A() {}", 0.9),
		chunkOf("b.go", "func B() {}", 0.7),
	}}

	prompt := BuildPrompt("add error handling", retrieved, 4096)
	assert.Contains(t, prompt, "add error handling")
	assert.Contains(t, prompt, "func A() {}")
	assert.Contains(t, prompt, "func B() {}")
	assert.Contains(t, prompt, "a.go")
	assert.Less(t, strings.Index(prompt, "func A() {}"), strings.Index(prompt, "func B() {}"),
		"higher-relevance context comes first")
}

func TestBuildPromptDropsLowestRelevanceFirst(t *testing.T) {
	big := strings.Repeat("x", 2000)
	retrieved := types.RetrievalResult{Chunks: []types.ScoredChunk{
		chunkOf("keep.go", big, 0.9),
		chunkOf("drop.go", big, 0.2),
	}}

	// Budget fits the query plus one chunk only.
	prompt := BuildPrompt("task", retrieved, EstimateTokens(big)+200)
	assert.Contains(t, prompt, "keep.go")
	assert.NotContains(t, prompt, "drop.go")
	assert.Contains(t, prompt, "task")
}

func TestBuildPromptNeverDropsQuery(t *testing.T) {
	retrieved := types.RetrievalResult{Chunks: []types.ScoredChunk{
		chunkOf("a.go", strings.Repeat("x", 1000), 0.9),
	}}

	prompt := BuildPrompt("the essential task", retrieved, 1)
	assert.Contains(t, prompt, "the essential task")
	assert.NotContains(t, prompt, "a.go", "no context fits a one-token budget")
}

func TestBuildPromptEmptyRetrieval(t *testing.T) {
	prompt := BuildPrompt("task", types.RetrievalResult{}, 4096)
	assert.Contains(t, prompt, "task")
	assert.NotContains(t, prompt, "Relevant project context")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

// blockingClient waits for the context deadline; used to exercise timeouts.
type blockingClient struct{}

func (blockingClient) Complete(ctx context.Context, _ string) (Completion, error) {
	<-ctx.Done()
	return Completion{}, ctx.Err()
}

func (blockingClient) Name() string { return "blocking" }

func TestAdapterTimeout(t *testing.T) {
	a := NewAdapterWithClient(blockingClient{}, testInferenceConfig())

	start := time.Now()
	_, prompt, err := a.Complete(context.Background(), "task", types.RetrievalResult{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProviderTimeout)
	assert.NotEmpty(t, prompt, "the assembled prompt is returned even on failure")
	assert.Less(t, time.Since(start), 5*time.Second)
}

// failingClient fails immediately without consuming the deadline.
type failingClient struct{}

func (failingClient) Complete(context.Context, string) (Completion, error) {
	return Completion{}, fmt.Errorf("connection refused")
}

func (failingClient) Name() string { return "failing" }

func TestAdapterProviderError(t *testing.T) {
	a := NewAdapterWithClient(failingClient{}, testInferenceConfig())

	_, _, err := a.Complete(context.Background(), "task", types.RetrievalResult{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrProviderTimeout,
		"a plain provider failure must not masquerade as a timeout")
	assert.Contains(t, err.Error(), "failing")
}

func TestAdapterPassesCompletionThrough(t *testing.T) {
	signal := 0.7
	client := staticClient{out: Completion{Text: "patched", RawSignal: &signal}}
	a := NewAdapterWithClient(client, testInferenceConfig())

	out, prompt, err := a.Complete(context.Background(), "task", types.RetrievalResult{})
	require.NoError(t, err)
	assert.Equal(t, "patched", out.Text)
	require.NotNil(t, out.RawSignal)
	assert.Equal(t, 0.7, *out.RawSignal)
	assert.Contains(t, prompt, "task")
}

type staticClient struct{ out Completion }

func (c staticClient) Complete(context.Context, string) (Completion, error) { return c.out, nil }
func (c staticClient) Name() string                                         { return "static" }

func TestOllamaClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "the fix", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model")
	out, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "the fix", out.Text)
	assert.Nil(t, out.RawSignal, "ollama exposes no certainty signal")
}

func TestOllamaClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "missing")
	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOpenAIClientDerivesSignalFromLogprobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"choices":[{"message":{"content":"the fix"},
			"logprobs":{"content":[{"logprob":0},{"logprob":-0.693147}]}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "secret", "gpt-test")
	out, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "the fix", out.Text)
	require.NotNil(t, out.RawSignal)
	// mean(exp(0), exp(-ln 2)) = mean(1, 0.5) = 0.75
	assert.InDelta(t, 0.75, *out.RawSignal, 1e-4)
}

func TestOpenAIClientNoLogprobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"the fix"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "gpt-test")
	out, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Nil(t, out.RawSignal, "missing logprobs means no signal, not zero")
}

func TestMeanTokenProbabilityClamped(t *testing.T) {
	var choice openAIChoice
	require.NoError(t, json.Unmarshal([]byte(
		`{"message":{"content":"x"},"logprobs":{"content":[{"logprob":5}]}}`), &choice))

	got, ok := meanTokenProbability(choice)
	require.True(t, ok)
	assert.Equal(t, 1.0, got, "positive logprobs clamp to 1")
	assert.False(t, math.IsNaN(got))
}
