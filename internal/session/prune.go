package session

import (
	"context"
	"fmt"
	"time"

	"pairpilot/internal/logging"
	"pairpilot/internal/types"
)

// Prune removes sessions inactive beyond the policy age and caps the history
// of retained sessions. Two invariants hold regardless of age:
//
//   - a session holding any non-terminal suggestion is never removed whole;
//   - the history cap only ever drops the oldest terminal entries.
//
// Pruning touches strictly-older, terminal rows only, so it is safe to run
// concurrently with active appends.
func (s *SQLiteStore) Prune(ctx context.Context, policy Policy) (PruneResult, error) {
	now := policy.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res PruneResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	if policy.MaxAge > 0 {
		cutoff := now.Add(-policy.MaxAge)
		r, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE last_active_at < ?
			 AND id NOT IN (
				SELECT DISTINCT session_id FROM suggestions
				WHERE status IN (?, ?)
			 )`,
			cutoff, string(types.StatusPending), string(types.StatusAwaitingApproval))
		if err != nil {
			return res, fmt.Errorf("failed to prune sessions: %w", err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.SessionsRemoved = int(n)
			// Drop history of removed sessions; only terminal rows can be
			// left orphaned given the session filter above.
			rr, err := tx.ExecContext(ctx,
				`DELETE FROM suggestions
				 WHERE session_id NOT IN (SELECT id FROM sessions)
				 AND status NOT IN (?, ?)`,
				string(types.StatusPending), string(types.StatusAwaitingApproval))
			if err != nil {
				return res, fmt.Errorf("failed to prune orphaned history: %w", err)
			}
			if nn, _ := rr.RowsAffected(); nn > 0 {
				res.SuggestionsRemoved += int(nn)
			}
		}
	}

	if policy.HistoryCap > 0 {
		// Per session, keep the newest HistoryCap entries; among the excess,
		// delete terminal rows only.
		r, err := tx.ExecContext(ctx,
			`DELETE FROM suggestions WHERE status NOT IN (?, ?) AND id IN (
				SELECT su.id FROM suggestions su
				WHERE (
					SELECT COUNT(*) FROM suggestions newer
					WHERE newer.session_id = su.session_id
					AND (newer.created_at > su.created_at
					     OR (newer.created_at = su.created_at AND newer.id > su.id))
				) >= ?
			 )`,
			string(types.StatusPending), string(types.StatusAwaitingApproval), policy.HistoryCap)
		if err != nil {
			return res, fmt.Errorf("failed to cap history: %w", err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.SuggestionsRemoved += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit prune: %w", err)
	}

	if res.SessionsRemoved > 0 || res.SuggestionsRemoved > 0 {
		logging.Get(logging.CategorySession).Infof("pruned %d sessions, %d suggestions",
			res.SessionsRemoved, res.SuggestionsRemoved)
	}
	return res, nil
}
