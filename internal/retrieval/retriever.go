// Package retrieval selects and ranks the most relevant indexed chunks for a
// query: it embeds the query text plus the text around the cursor, asks the
// context store for candidates, and applies a bounded recency boost for files
// the session is currently focused on.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"pairpilot/internal/config"
	"pairpilot/internal/contextstore"
	"pairpilot/internal/embedding"
	"pairpilot/internal/logging"
	"pairpilot/internal/session"
	"pairpilot/internal/types"
)

// Query describes one retrieval request.
type Query struct {
	ProjectID string
	SessionID string

	// Text is the user's query or intent.
	Text string

	// CursorFile is the file the cursor is in; it participates in the
	// recency boost.
	CursorFile string

	// CursorWindow is the text surrounding the cursor, supplied by the
	// front end. Truncated to the configured window size.
	CursorWindow string
}

// Retriever ranks context store chunks for queries.
type Retriever struct {
	store    *contextstore.Store
	engine   embedding.Engine
	sessions session.Store
	cfg      config.RetrievalConfig
}

// New creates a retriever.
func New(store *contextstore.Store, engine embedding.Engine, sessions session.Store, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{store: store, engine: engine, sessions: sessions, cfg: cfg}
}

// Retrieve returns the top chunks for the query, descending by boosted
// relevance. An unindexed project yields an empty result and no error:
// callers treat empty context as a valid low-confidence signal.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (types.RetrievalResult, error) {
	log := logging.Get(logging.CategoryRetrieval)

	input := r.queryInput(q)
	if strings.TrimSpace(input) == "" {
		return types.RetrievalResult{}, nil
	}

	vec, err := r.engine.Embed(ctx, input)
	if err != nil {
		return types.RetrievalResult{}, fmt.Errorf("failed to embed query: %w", err)
	}

	res, err := r.store.Query(ctx, q.ProjectID, vec, r.cfg.ContextTopK)
	if err != nil {
		return types.RetrievalResult{}, err
	}
	if res.Empty() {
		log.Debugf("no indexed context for project %s", q.ProjectID)
		return res, nil
	}

	r.applyRecencyBoost(ctx, q, &res)
	return res, nil
}

// queryInput joins the query text with the cursor window under the configured
// byte budget. Truncation backs off to a rune boundary so the embedding
// provider never sees a split UTF-8 sequence.
func (r *Retriever) queryInput(q Query) string {
	window := q.CursorWindow
	if max := r.cfg.CursorWindowBytes; max > 0 && len(window) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(window[cut]) {
			cut--
		}
		window = window[:cut]
	}
	if window == "" {
		return q.Text
	}
	return q.Text + "\n" + window
}

// applyRecencyBoost multiplies the relevance of chunks from recently-touched
// files, capped at 1.0, then re-sorts. The developer's current focus is more
// relevant than an equally-similar stale match.
func (r *Retriever) applyRecencyBoost(ctx context.Context, q Query, res *types.RetrievalResult) {
	boost := r.cfg.RecencyBoost
	if boost <= 1.0 {
		return
	}

	recent := map[string]bool{}
	if q.CursorFile != "" {
		recent[q.CursorFile] = true
	}
	if q.SessionID != "" && r.sessions != nil {
		files, err := r.sessions.RecentFiles(ctx, q.SessionID, r.cfg.RecencyWindow)
		if err != nil {
			logging.Get(logging.CategoryRetrieval).Debugf("recent files unavailable: %v", err)
		}
		for _, f := range files {
			recent[f] = true
		}
	}
	if len(recent) == 0 {
		return
	}

	for i := range res.Chunks {
		if recent[res.Chunks[i].Chunk.FilePath] {
			if boosted := res.Chunks[i].Relevance * boost; boosted < 1 {
				res.Chunks[i].Relevance = boosted
			} else {
				res.Chunks[i].Relevance = 1
			}
		}
	}
	sort.SliceStable(res.Chunks, func(i, j int) bool {
		return res.Chunks[i].Relevance > res.Chunks[j].Relevance
	})
}
