package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pairpilot/internal/logging"
	"pairpilot/internal/types"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions, suggestions, and acceptance stats under a
// project-scoped namespace.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, last_active_at);

CREATE TABLE IF NOT EXISTS suggestions (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	prompt_context TEXT NOT NULL DEFAULT '',
	raw_text       TEXT NOT NULL DEFAULT '',
	target_file    TEXT NOT NULL DEFAULT '',
	target_start   INTEGER NOT NULL DEFAULT 0,
	target_end     INTEGER NOT NULL DEFAULT 0,
	confidence     REAL NOT NULL,
	status         TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	resolved_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_suggestions_session ON suggestions(session_id, created_at);

CREATE TABLE IF NOT EXISTS acceptance_stats (
	project_id      TEXT PRIMARY KEY,
	total_suggested INTEGER NOT NULL DEFAULT 0,
	total_accepted  INTEGER NOT NULL DEFAULT 0,
	total_rejected  INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLiteStore opens (or creates) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategorySession).Debugf("pragma failed: %v", err)
		}
	}

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetOrCreate returns the most recently active session for a project,
// creating one when the project has none.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, projectID string) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess types.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, created_at, last_active_at FROM sessions
		 WHERE project_id = ? ORDER BY last_active_at DESC LIMIT 1`, projectID).
		Scan(&sess.ID, &sess.ProjectID, &sess.CreatedAt, &sess.LastActiveAt)
	if err == nil {
		sess.Stats, _ = s.statsLocked(ctx, projectID)
		return sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return sess, fmt.Errorf("failed to look up session: %w", err)
	}

	now := time.Now().UTC()
	sess = types.Session{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, created_at, last_active_at) VALUES (?, ?, ?, ?)`,
		sess.ID, projectID, now, now); err != nil {
		return sess, fmt.Errorf("failed to create session: %w", err)
	}
	logging.Get(logging.CategorySession).Debugf("created session %s for project %s", sess.ID, projectID)
	return sess, nil
}

// Get returns a session with its retained history, oldest first.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess types.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, created_at, last_active_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &sess.ProjectID, &sess.CreatedAt, &sess.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return sess, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, project_id, prompt_context, raw_text,
		        target_file, target_start, target_end,
		        confidence, status, reason, created_at, resolved_at
		 FROM suggestions WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return sess, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			continue
		}
		sess.History = append(sess.History, sug)
	}
	sess.Stats, _ = s.statsLocked(ctx, sess.ProjectID)
	return sess, nil
}

// List returns all sessions without history, most recently active first.
func (s *SQLiteStore) List(ctx context.Context) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, created_at, last_active_at FROM sessions ORDER BY last_active_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		var sess types.Session
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.CreatedAt, &sess.LastActiveAt); err == nil {
			out = append(out, sess)
		}
	}
	return out, rows.Err()
}

// Append records a suggestion and bumps total_suggested in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, sug types.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var resolvedAt any
	if !sug.ResolvedAt.IsZero() {
		resolvedAt = sug.ResolvedAt
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO suggestions
		 (id, session_id, project_id, prompt_context, raw_text,
		  target_file, target_start, target_end, confidence, status, reason, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sug.ID, sessionID, sug.ProjectID, sug.PromptContext, sug.RawText,
		sug.Target.FilePath, sug.Target.ByteStart, sug.Target.ByteEnd,
		sug.Confidence, string(sug.Status), string(sug.Reason), sug.CreatedAt, resolvedAt); err != nil {
		return fmt.Errorf("failed to insert suggestion: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO acceptance_stats (project_id, total_suggested) VALUES (?, 1)
		 ON CONFLICT(project_id) DO UPDATE SET total_suggested = total_suggested + 1`,
		sug.ProjectID); err != nil {
		return fmt.Errorf("failed to bump stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = CURRENT_TIMESTAMP WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return tx.Commit()
}

// MarkAwaiting transitions a pending suggestion to awaiting_approval.
func (s *SQLiteStore) MarkAwaiting(ctx context.Context, suggestionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE suggestions SET status = ? WHERE id = ? AND status = ?`,
		string(types.StatusAwaitingApproval), suggestionID, string(types.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark awaiting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrUnknownSuggestion
	}
	return nil
}

// GetSuggestion returns one suggestion by id.
func (s *SQLiteStore) GetSuggestion(ctx context.Context, suggestionID string) (types.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, project_id, prompt_context, raw_text,
		        target_file, target_start, target_end,
		        confidence, status, reason, created_at, resolved_at
		 FROM suggestions WHERE id = ?`, suggestionID)
	sug, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sug, types.ErrUnknownSuggestion
	}
	if err != nil {
		return sug, fmt.Errorf("failed to load suggestion: %w", err)
	}
	return sug, nil
}

// ListAwaiting returns every suggestion still waiting on a human, oldest
// first.
func (s *SQLiteStore) ListAwaiting(ctx context.Context) ([]types.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, project_id, prompt_context, raw_text,
		        target_file, target_start, target_end,
		        confidence, status, reason, created_at, resolved_at
		 FROM suggestions WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(types.StatusAwaitingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting suggestions: %w", err)
	}
	defer rows.Close()

	var out []types.Suggestion
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			continue
		}
		out = append(out, sug)
	}
	return out, rows.Err()
}

// Resolve writes a terminal status and its stats update atomically. Expired
// counts as rejected for statistics but keeps its distinct status for
// observability. Returns ErrStaleApproval when the suggestion is already
// terminal and ErrUnknownSuggestion when the id is not stored.
func (s *SQLiteStore) Resolve(ctx context.Context, suggestionID string,
	status types.SuggestionStatus, reason types.RejectReason, resolvedAt time.Time) error {

	if !status.Terminal() {
		return fmt.Errorf("resolve requires a terminal status, got %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin resolve: %w", err)
	}
	defer tx.Rollback()

	var projectID, current string
	err = tx.QueryRowContext(ctx,
		`SELECT project_id, status FROM suggestions WHERE id = ?`, suggestionID).
		Scan(&projectID, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrUnknownSuggestion
	}
	if err != nil {
		return fmt.Errorf("failed to load suggestion: %w", err)
	}
	if types.SuggestionStatus(current).Terminal() {
		return types.ErrStaleApproval
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE suggestions SET status = ?, reason = ?, resolved_at = ? WHERE id = ?`,
		string(status), string(reason), resolvedAt, suggestionID); err != nil {
		return fmt.Errorf("failed to update suggestion: %w", err)
	}

	column := "total_rejected"
	if status == types.StatusAutoApplied || status == types.StatusApproved {
		column = "total_accepted"
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO acceptance_stats (project_id, `+column+`) VALUES (?, 1)
		 ON CONFLICT(project_id) DO UPDATE SET `+column+` = `+column+` + 1`,
		projectID); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	return tx.Commit()
}

// Stats returns the project's acceptance counters.
func (s *SQLiteStore) Stats(ctx context.Context, projectID string) (types.AcceptanceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked(ctx, projectID)
}

func (s *SQLiteStore) statsLocked(ctx context.Context, projectID string) (types.AcceptanceStats, error) {
	var st types.AcceptanceStats
	err := s.db.QueryRowContext(ctx,
		`SELECT total_suggested, total_accepted, total_rejected FROM acceptance_stats WHERE project_id = ?`,
		projectID).Scan(&st.TotalSuggested, &st.TotalAccepted, &st.TotalRejected)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AcceptanceStats{}, nil
	}
	return st, err
}

// RecentFiles returns files targeted by the session's last n suggestions,
// most recent first, deduplicated.
func (s *SQLiteStore) RecentFiles(ctx context.Context, sessionID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT target_file FROM suggestions
		 WHERE session_id = ? AND target_file != ''
		 ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent files: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil || seen[f] {
			continue
		}
		seen[f] = true
		files = append(files, f)
	}
	return files, rows.Err()
}

// Degraded always reports false for the persistent store.
func (s *SQLiteStore) Degraded() bool { return false }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(r rowScanner) (types.Suggestion, error) {
	var sug types.Suggestion
	var status, reason string
	var resolvedAt sql.NullTime
	err := r.Scan(&sug.ID, &sug.SessionID, &sug.ProjectID, &sug.PromptContext, &sug.RawText,
		&sug.Target.FilePath, &sug.Target.ByteStart, &sug.Target.ByteEnd,
		&sug.Confidence, &status, &reason, &sug.CreatedAt, &resolvedAt)
	if err != nil {
		return sug, err
	}
	sug.Status = types.SuggestionStatus(status)
	sug.Reason = types.RejectReason(reason)
	if resolvedAt.Valid {
		sug.ResolvedAt = resolvedAt.Time
	}
	return sug, nil
}
