package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pairpilot/internal/config"
	"pairpilot/internal/inference"
	"pairpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder gives full relevance to "north" content against a "north"
// query and no relevance to anything else.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "north") {
		return []float32{1, 0, 0}, nil
	}
	return []float32{0, 1, 0}, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (keywordEmbedder) Dimensions() int { return 3 }
func (keywordEmbedder) Name() string    { return "keyword" }

// scriptedClient returns a fixed completion, optionally blocking until the
// context is cancelled.
type scriptedClient struct {
	text   string
	signal *float64
	block  bool
}

func (c *scriptedClient) Complete(ctx context.Context, _ string) (inference.Completion, error) {
	if c.block {
		<-ctx.Done()
		return inference.Completion{}, ctx.Err()
	}
	return inference.Completion{Text: c.text, RawSignal: c.signal}, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

type recordingApplier struct {
	mu      sync.Mutex
	applied []types.Suggestion
}

func (a *recordingApplier) Apply(_ context.Context, s types.Suggestion) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, s)
	return nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func sig(v float64) *float64 { return &v }

func newTestEngine(t *testing.T, client inference.Client) (*Engine, *recordingApplier) {
	t.Helper()

	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Inference.TimeoutSeconds = 1

	applier := &recordingApplier{}
	eng, err := New(cfg, Options{
		Embedder:  keywordEmbedder{},
		Inference: client,
		Applier:   applier,
	})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng, applier
}

func TestSubmitQueryAutoApplies(t *testing.T) {
	// Full signal plus perfectly relevant context lands above the high
	// threshold: 0.5*1 + 0.3*1 + 0.2*0.5 = 0.9.
	eng, applier := newTestEngine(t, &scriptedClient{text: "the patch", signal: sig(1.0)})
	ctx := context.Background()

	require.NoError(t, eng.OnFileChanged(ctx, "proj", "nav.go", []byte("func north() {}\n")))

	sug, err := eng.SubmitQuery(ctx, QueryRequest{
		ProjectID: "proj",
		QueryText: "extend north",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAutoApplied, sug.Status)
	assert.Equal(t, "the patch", sug.RawText)
	assert.InDelta(t, 0.9, sug.Confidence, 1e-9)
	assert.Contains(t, sug.PromptContext, "func north()", "retrieved context feeds the prompt")
	assert.Equal(t, 1, applier.count())
}

func TestSubmitQueryEmptyContextLowConfidence(t *testing.T) {
	// No index, no signal, no history: 0.6*0 + 0.4*0.5 = 0.2, below the low
	// threshold.
	eng, applier := newTestEngine(t, &scriptedClient{text: "guess"})

	sug, err := eng.SubmitQuery(context.Background(), QueryRequest{
		ProjectID: "proj",
		QueryText: "extend north",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, sug.Status)
	assert.Equal(t, types.ReasonBelowThreshold, sug.Reason)
	assert.Zero(t, applier.count())
}

func TestSubmitQueryMidConfidenceAwaitsThenApproves(t *testing.T) {
	// 0.5*0.7 + 0.3*0 + 0.2*0.5 = 0.45, inside the approval band.
	eng, applier := newTestEngine(t, &scriptedClient{text: "maybe", signal: sig(0.7)})
	ctx := context.Background()

	sug, err := eng.SubmitQuery(ctx, QueryRequest{ProjectID: "proj", QueryText: "extend north"})
	require.NoError(t, err)
	require.Equal(t, types.StatusAwaitingApproval, sug.Status)
	assert.Equal(t, 1, eng.Status().AwaitingApproval)

	require.NoError(t, eng.RespondToApproval(ctx, sug.ID, types.DecisionApprove))
	assert.Equal(t, 1, applier.count())

	// A duplicate response is absorbed, not surfaced as an error.
	require.NoError(t, eng.RespondToApproval(ctx, sug.ID, types.DecisionApprove))
	assert.Equal(t, 1, applier.count())
}

func TestSubmitQueryProviderTimeout(t *testing.T) {
	eng, applier := newTestEngine(t, &scriptedClient{block: true})

	sug, err := eng.SubmitQuery(context.Background(), QueryRequest{
		ProjectID: "proj",
		QueryText: "extend north",
	})
	require.NoError(t, err, "a provider timeout resolves the suggestion, it does not fail the call")
	assert.Equal(t, types.StatusRejected, sug.Status)
	assert.Equal(t, types.ReasonProviderTimeout, sug.Reason)
	assert.Zero(t, applier.count())
}

func TestDisconnectClientCancelsInflight(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedClient{block: true})

	results := make(chan types.Suggestion, 1)
	go func() {
		sug, err := eng.SubmitQuery(context.Background(), QueryRequest{
			ProjectID: "proj",
			ClientID:  "editor-1",
			QueryText: "extend north",
		})
		if err == nil {
			results <- sug
		}
	}()

	// Let the request reach the blocking provider call, then disconnect.
	time.Sleep(100 * time.Millisecond)
	eng.DisconnectClient("editor-1")

	select {
	case sug := <-results:
		assert.Equal(t, types.StatusRejected, sug.Status)
		assert.Equal(t, types.ReasonClientDisconnected, sug.Reason)
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled request did not resolve")
	}
}

func TestAcceptancePriorShiftsConfidence(t *testing.T) {
	// Identical requests land differently as history accumulates: each
	// auto-apply raises the prior for the next one.
	eng, _ := newTestEngine(t, &scriptedClient{text: "patch", signal: sig(1.0)})
	ctx := context.Background()
	require.NoError(t, eng.OnFileChanged(ctx, "proj", "nav.go", []byte("func north() {}\n")))

	first, err := eng.SubmitQuery(ctx, QueryRequest{ProjectID: "proj", QueryText: "extend north"})
	require.NoError(t, err)
	second, err := eng.SubmitQuery(ctx, QueryRequest{ProjectID: "proj", QueryText: "extend north"})
	require.NoError(t, err)

	assert.Greater(t, second.Confidence, first.Confidence,
		"an accepted suggestion should raise the prior for the next score")
}

func TestStatusReportsDegradedFallback(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedClient{text: "x"})
	assert.False(t, eng.Status().Degraded, "a healthy session database is not degraded")
}

func TestSessionsSurviveEngineRestart(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Inference.TimeoutSeconds = 1

	client := &scriptedClient{text: "maybe", signal: sig(0.7)}
	eng, err := New(cfg, Options{Embedder: keywordEmbedder{}, Inference: client})
	require.NoError(t, err)

	sug, err := eng.SubmitQuery(context.Background(), QueryRequest{ProjectID: "proj", QueryText: "extend north"})
	require.NoError(t, err)
	require.Equal(t, types.StatusAwaitingApproval, sug.Status)
	require.NoError(t, eng.Close())

	// A new engine over the same state dir can still resolve the approval.
	eng2, err := New(cfg, Options{Embedder: keywordEmbedder{}, Inference: client})
	require.NoError(t, err)
	defer eng2.Close()

	require.NoError(t, eng2.RespondToApproval(context.Background(), sug.ID, types.DecisionDecline))
	stored, err := eng2.Sessions().GetSuggestion(context.Background(), sug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, stored.Status)
	assert.Equal(t, types.ReasonHumanDeclined, stored.Reason)
}

func TestPruneRunsRetentionPolicy(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedClient{text: "x", signal: sig(1.0)})

	res, err := eng.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.SessionsRemoved, "fresh sessions are inside the retention window")
}

func TestPruneEvictsStaleSessionLocks(t *testing.T) {
	eng, _ := newTestEngine(t, &scriptedClient{text: "x", signal: sig(1.0)})
	ctx := context.Background()

	_, err := eng.SubmitQuery(ctx, QueryRequest{ProjectID: "proj", QueryText: "extend north"})
	require.NoError(t, err)

	// A lock whose session the store no longer retains.
	eng.mu.Lock()
	eng.sessionLocks["gone"] = &sync.Mutex{}
	eng.mu.Unlock()

	_, err = eng.Prune(ctx)
	require.NoError(t, err)

	live, err := eng.sessions.GetOrCreate(ctx, "proj")
	require.NoError(t, err)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	_, staleKept := eng.sessionLocks["gone"]
	assert.False(t, staleKept, "locks for dropped sessions must be evicted")
	_, liveKept := eng.sessionLocks[live.ID]
	assert.True(t, liveKept, "locks for retained sessions survive pruning")
}

func TestApplierReceivesTarget(t *testing.T) {
	eng, applier := newTestEngine(t, &scriptedClient{text: "patch", signal: sig(1.0)})
	ctx := context.Background()
	require.NoError(t, eng.OnFileChanged(ctx, "proj", "nav.go", []byte("func north() {}\n")))

	target := types.EditTarget{FilePath: "nav.go", ByteStart: 5, ByteEnd: 15}
	_, err := eng.SubmitQuery(ctx, QueryRequest{
		ProjectID: "proj",
		QueryText: "extend north",
		Target:    target,
	})
	require.NoError(t, err)

	applier.mu.Lock()
	defer applier.mu.Unlock()
	require.Len(t, applier.applied, 1)
	assert.Equal(t, target, applier.applied[0].Target)
}
