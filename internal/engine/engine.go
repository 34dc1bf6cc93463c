// Package engine wires the suggestion pipeline together: file-change events
// feed the context store, queries run retrieval -> inference -> scoring ->
// gating, and every status transition is pushed to subscribers. This is the
// surface the transport and file-watcher collaborators talk to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"pairpilot/internal/config"
	"pairpilot/internal/contextstore"
	"pairpilot/internal/embedding"
	"pairpilot/internal/gate"
	"pairpilot/internal/inference"
	"pairpilot/internal/logging"
	"pairpilot/internal/retrieval"
	"pairpilot/internal/scoring"
	"pairpilot/internal/session"
	"pairpilot/internal/types"

	"github.com/google/uuid"
)

// QueryRequest is one suggestion request from the front end.
type QueryRequest struct {
	ProjectID string
	SessionID string // empty selects the project's active session
	ClientID  string // used for disconnect cancellation

	QueryText    string
	CursorFile   string
	CursorWindow string

	// Target is the edit region the suggestion would modify.
	Target types.EditTarget
}

// Status is a snapshot of engine health for the front end.
type Status struct {
	Degraded         bool `json:"degraded"` // session store fell back to memory
	AwaitingApproval int  `json:"awaiting_approval"`
}

// Engine is the confidence-gated suggestion engine.
type Engine struct {
	cfg       config.Config
	chunks    *contextstore.Store
	sessions  session.Store
	retriever *retrieval.Retriever
	adapter   *inference.Adapter
	scorer    *scoring.Scorer
	gate      *gate.Controller

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	inflight     map[string]map[string]context.CancelFunc // client id -> request id -> cancel
}

// Options carries the injectable collaborators. Zero fields are built from
// configuration.
type Options struct {
	Embedder  embedding.Engine
	Inference inference.Client
	Applier   gate.Applier
}

// New builds a fully wired engine from configuration. A failed session
// database falls back to an ephemeral in-memory store; the engine keeps
// serving and reports Degraded through Status.
func New(cfg config.Config, opts Options) (*Engine, error) {
	chunks, err := contextstore.New(filepath.Join(cfg.StateDir, "chunks.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open context store: %w", err)
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder, err = embedding.NewEngine(cfg.Embedding)
		if err != nil {
			chunks.Close()
			return nil, fmt.Errorf("failed to build embedding engine: %w", err)
		}
	}
	chunks.SetEmbeddingEngine(embedder)

	sessions := session.Open(filepath.Join(cfg.StateDir, "sessions.db"))

	var adapter *inference.Adapter
	if opts.Inference != nil {
		adapter = inference.NewAdapterWithClient(opts.Inference, cfg.Inference)
	} else {
		adapter, err = inference.NewAdapter(cfg.Inference)
		if err != nil {
			chunks.Close()
			sessions.Close()
			return nil, fmt.Errorf("failed to build inference adapter: %w", err)
		}
	}

	e := &Engine{
		cfg:          cfg,
		chunks:       chunks,
		sessions:     sessions,
		retriever:    retrieval.New(chunks, embedder, sessions, cfg.Retrieval),
		adapter:      adapter,
		scorer:       scoring.New(cfg.Scoring),
		gate:         gate.New(cfg.Gating, sessions, opts.Applier),
		sessionLocks: map[string]*sync.Mutex{},
		inflight:     map[string]map[string]context.CancelFunc{},
	}

	// Approvals left awaiting by a previous process keep their bounded
	// window: overdue ones expire now, the rest get their timer re-armed.
	if err := e.gate.Resume(context.Background()); err != nil {
		logging.Get(logging.CategoryEngine).Warnf("failed to resume awaiting approvals: %v", err)
	}
	return e, nil
}

// Subscribe registers a listener for suggestion status events.
func (e *Engine) Subscribe(l gate.Listener) { e.gate.Subscribe(l) }

// OnFileChanged ingests a file-change event from the watcher collaborator.
func (e *Engine) OnFileChanged(ctx context.Context, projectID, filePath string, content []byte) error {
	_, err := e.chunks.Upsert(ctx, projectID, filePath, content)
	return err
}

// SubmitQuery runs the full pipeline for one request and returns the gated
// suggestion. Requests for the same session are processed in submission
// order; distinct sessions proceed concurrently. Provider failures surface
// as a terminal rejected suggestion, never as a crash.
func (e *Engine) SubmitQuery(ctx context.Context, req QueryRequest) (types.Suggestion, error) {
	log := logging.Get(logging.CategoryEngine)

	sessionID := req.SessionID
	projectID := req.ProjectID
	if sessionID == "" {
		sess, err := e.sessions.GetOrCreate(ctx, projectID)
		if err != nil {
			return types.Suggestion{}, fmt.Errorf("failed to resolve session: %w", err)
		}
		sessionID = sess.ID
	}

	// Per-session FIFO: gate decisions for one session never reorder.
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, finish := e.trackInflight(ctx, req.ClientID)
	defer finish()

	sug := types.Suggestion{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		SessionID: sessionID,
		Target:    req.Target,
		CreatedAt: time.Now().UTC(),
	}

	// Retrieval. Empty context is a valid low-confidence signal; a retrieval
	// failure degrades to empty context rather than failing the request.
	retrieved, err := e.retriever.Retrieve(ctx, retrieval.Query{
		ProjectID:    projectID,
		SessionID:    sessionID,
		Text:         req.QueryText,
		CursorFile:   req.CursorFile,
		CursorWindow: req.CursorWindow,
	})
	if err != nil {
		log.Warnf("retrieval failed, continuing without context: %v", err)
		retrieved = types.RetrievalResult{}
	}

	completion, prompt, err := e.adapter.Complete(ctx, req.QueryText, retrieved)
	sug.PromptContext = prompt
	if err != nil {
		reason := types.ReasonProviderError
		switch {
		case errors.Is(err, types.ErrProviderTimeout):
			reason = types.ReasonProviderTimeout
		case errors.Is(ctx.Err(), context.Canceled):
			reason = types.ReasonClientDisconnected
		}
		log.Warnf("inference failed for session %s: %v", sessionID, err)
		// Terminal transitions still need to commit after cancellation.
		return e.gate.Reject(context.WithoutCancel(ctx), sug, reason)
	}

	stats, err := e.sessions.Stats(ctx, projectID)
	if err != nil {
		log.Warnf("acceptance stats unavailable for %s: %v", projectID, err)
		stats = types.AcceptanceStats{}
	}

	sug.RawText = completion.Text
	sug.Confidence = e.scorer.Score(completion.RawSignal, retrieved.TopRelevance(), stats)

	return e.gate.Admit(ctx, sug)
}

// RespondToApproval delivers a human approve/decline. Responses that arrive
// after the suggestion reached a terminal state are no-ops, logged, never
// surfaced as failures.
func (e *Engine) RespondToApproval(ctx context.Context, suggestionID string, decision types.ApprovalDecision) error {
	err := e.gate.Respond(ctx, suggestionID, decision)
	if errors.Is(err, types.ErrStaleApproval) {
		logging.Get(logging.CategoryEngine).Infof("stale approval for %s: already resolved", suggestionID)
		return nil
	}
	return err
}

// DisconnectClient cancels the client's in-flight inference calls. Each
// cancelled request resolves as rejected with reason client_disconnected.
func (e *Engine) DisconnectClient(clientID string) {
	e.mu.Lock()
	cancels := e.inflight[clientID]
	delete(e.inflight, clientID)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		logging.Get(logging.CategoryEngine).Infof("client %s disconnected, cancelled %d in-flight requests",
			clientID, len(cancels))
	}
}

// Prune applies the configured session retention policy and drops the FIFO
// locks of sessions the store no longer retains, so the lock map stays
// bounded by the retained session count.
func (e *Engine) Prune(ctx context.Context) (session.PruneResult, error) {
	res, err := e.sessions.Prune(ctx, session.Policy{
		MaxAge:     e.cfg.Session.RetentionAge(),
		HistoryCap: e.cfg.Session.HistoryCap,
	})
	if err != nil {
		return res, err
	}
	e.evictStaleSessionLocks(ctx)
	return res, nil
}

func (e *Engine) evictStaleSessionLocks(ctx context.Context) {
	sessions, err := e.sessions.List(ctx)
	if err != nil {
		logging.Get(logging.CategoryEngine).Debugf("session list unavailable, keeping locks: %v", err)
		return
	}
	retained := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		retained[s.ID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.sessionLocks {
		if !retained[id] {
			delete(e.sessionLocks, id)
		}
	}
}

// ReindexPending re-embeds every chunk awaiting an embedding for a project.
func (e *Engine) ReindexPending(ctx context.Context, projectID string) (int, error) {
	return e.chunks.ReembedPending(ctx, projectID, 4)
}

// Vacuum reclaims disk space held by superseded chunk rows.
func (e *Engine) Vacuum() error {
	return e.chunks.Vacuum()
}

// Status reports engine health for the front end.
func (e *Engine) Status() Status {
	return Status{
		Degraded:         e.sessions.Degraded(),
		AwaitingApproval: e.gate.AwaitingCount(),
	}
}

// Sessions exposes the session store for CLI inspection.
func (e *Engine) Sessions() session.Store { return e.sessions }

// Close releases all resources. Awaiting approvals persist and expire on the
// next run.
func (e *Engine) Close() error {
	e.gate.Close()
	err := e.chunks.Close()
	if serr := e.sessions.Close(); err == nil {
		err = serr
	}
	return err
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLocks[sessionID] = l
	}
	return l
}

// trackInflight derives a cancellable context registered under the client id
// so DisconnectClient can abort the provider call.
func (e *Engine) trackInflight(ctx context.Context, clientID string) (context.Context, func()) {
	if clientID == "" {
		return ctx, func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	reqID := uuid.NewString()

	e.mu.Lock()
	if e.inflight[clientID] == nil {
		e.inflight[clientID] = map[string]context.CancelFunc{}
	}
	e.inflight[clientID][reqID] = cancel
	e.mu.Unlock()

	return ctx, func() {
		cancel()
		e.mu.Lock()
		if m := e.inflight[clientID]; m != nil {
			delete(m, reqID)
			if len(m) == 0 {
				delete(e.inflight, clientID)
			}
		}
		e.mu.Unlock()
	}
}
