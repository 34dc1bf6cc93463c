// Package session persists per-project suggestion history and acceptance
// statistics with bounded size and automatic pruning. The SQLite store is the
// normal path; when it cannot be opened the engine falls back to an ephemeral
// in-memory store and reports degraded mode.
package session

import (
	"context"
	"time"

	"pairpilot/internal/logging"
	"pairpilot/internal/types"
)

// Store is the session persistence contract consumed by the gate controller,
// the retriever, and the engine facade.
type Store interface {
	// GetOrCreate returns the active session for a project, creating one if
	// none exists.
	GetOrCreate(ctx context.Context, projectID string) (types.Session, error)

	// Get returns a session with its full retained history.
	Get(ctx context.Context, sessionID string) (types.Session, error)

	// List returns all retained sessions, most recently active first.
	List(ctx context.Context) ([]types.Session, error)

	// Append records a new suggestion in the session's history and bumps the
	// project's total_suggested counter and the session's activity time.
	Append(ctx context.Context, sessionID string, s types.Suggestion) error

	// MarkAwaiting transitions a pending suggestion to awaiting_approval.
	MarkAwaiting(ctx context.Context, suggestionID string) error

	// GetSuggestion returns one suggestion by id.
	GetSuggestion(ctx context.Context, suggestionID string) (types.Suggestion, error)

	// ListAwaiting returns every awaiting_approval suggestion across all
	// sessions, oldest first. Used to re-adopt approval windows after a
	// restart.
	ListAwaiting(ctx context.Context) ([]types.Suggestion, error)

	// Resolve atomically writes a suggestion's terminal status and the
	// matching acceptance-stats update; both commit or neither does.
	Resolve(ctx context.Context, suggestionID string, status types.SuggestionStatus,
		reason types.RejectReason, resolvedAt time.Time) error

	// Stats returns the project's rolling acceptance counters.
	Stats(ctx context.Context, projectID string) (types.AcceptanceStats, error)

	// RecentFiles returns the files targeted by the session's last n
	// suggestions, most recent first, deduplicated.
	RecentFiles(ctx context.Context, sessionID string, n int) ([]string, error)

	// Prune applies the retention policy. It never removes a pending or
	// awaiting_approval suggestion and is safe to run concurrently with
	// appends.
	Prune(ctx context.Context, policy Policy) (PruneResult, error)

	// Degraded reports whether this store is the in-memory fallback.
	Degraded() bool

	Close() error
}

// Policy is the pruning policy: drop sessions inactive beyond MaxAge and cap
// each retained session's history at HistoryCap entries.
type Policy struct {
	MaxAge     time.Duration
	HistoryCap int
	Now        time.Time // zero means time.Now()
}

// PruneResult reports what a pruning pass removed.
type PruneResult struct {
	SessionsRemoved    int
	SuggestionsRemoved int
}

// Open opens the SQLite session store at path, falling back to an ephemeral
// in-memory store when the database cannot be opened. The fallback is
// reported, never hidden: callers surface degraded mode to the front end.
func Open(path string) Store {
	st, err := NewSQLiteStore(path)
	if err != nil {
		logging.Get(logging.CategorySession).Errorf(
			"%v, falling back to in-memory store: %v", types.ErrSessionStoreUnavailable, err)
		return NewMemoryStore(true)
	}
	return st
}
