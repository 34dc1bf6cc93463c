package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pairpilot/internal/types"

	"github.com/google/uuid"
)

// MemoryStore is the ephemeral fallback used when the session database is
// corrupt or unreachable. Same semantics as the SQLite store, no persistence.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session          // by session id
	byProj   map[string]string                  // project id -> active session id
	stats    map[string]*types.AcceptanceStats  // by project id
	index    map[string]string                  // suggestion id -> session id
	degraded bool
}

// NewMemoryStore creates an in-memory session store. degraded marks it as the
// fallback for a failed persistent store.
func NewMemoryStore(degraded bool) *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*types.Session{},
		byProj:   map[string]string{},
		stats:    map[string]*types.AcceptanceStats{},
		index:    map[string]string{},
		degraded: degraded,
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, projectID string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byProj[projectID]; ok {
		return m.snapshot(m.sessions[id]), nil
	}
	now := time.Now().UTC()
	sess := &types.Session{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.sessions[sess.ID] = sess
	m.byProj[projectID] = sess.ID
	return m.snapshot(sess), nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return types.Session{}, fmt.Errorf("session %s not found", sessionID)
	}
	return m.snapshot(sess), nil
}

func (m *MemoryStore) List(_ context.Context) ([]types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, m.snapshot(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, sug types.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	sess.History = append(sess.History, sug)
	sess.LastActiveAt = time.Now().UTC()
	m.index[sug.ID] = sessionID
	m.statsFor(sug.ProjectID).TotalSuggested++
	return nil
}

func (m *MemoryStore) MarkAwaiting(_ context.Context, suggestionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.index[suggestionID]
	if !ok {
		return types.ErrUnknownSuggestion
	}
	sess := m.sessions[sessionID]
	for i := range sess.History {
		if sess.History[i].ID == suggestionID && sess.History[i].Status == types.StatusPending {
			sess.History[i].Status = types.StatusAwaitingApproval
			return nil
		}
	}
	return types.ErrUnknownSuggestion
}

func (m *MemoryStore) GetSuggestion(_ context.Context, suggestionID string) (types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, ok := m.index[suggestionID]
	if !ok {
		return types.Suggestion{}, types.ErrUnknownSuggestion
	}
	for _, sug := range m.sessions[sessionID].History {
		if sug.ID == suggestionID {
			return sug, nil
		}
	}
	return types.Suggestion{}, types.ErrUnknownSuggestion
}

func (m *MemoryStore) ListAwaiting(_ context.Context) ([]types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Suggestion
	for _, sess := range m.sessions {
		for _, sug := range sess.History {
			if sug.Status == types.StatusAwaitingApproval {
				out = append(out, sug)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Resolve(_ context.Context, suggestionID string,
	status types.SuggestionStatus, reason types.RejectReason, resolvedAt time.Time) error {

	if !status.Terminal() {
		return fmt.Errorf("resolve requires a terminal status, got %s", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.index[suggestionID]
	if !ok {
		return types.ErrUnknownSuggestion
	}
	sess := m.sessions[sessionID]
	for i := range sess.History {
		if sess.History[i].ID != suggestionID {
			continue
		}
		if sess.History[i].Status.Terminal() {
			return types.ErrStaleApproval
		}
		sess.History[i].Status = status
		sess.History[i].Reason = reason
		sess.History[i].ResolvedAt = resolvedAt

		st := m.statsFor(sess.History[i].ProjectID)
		if status == types.StatusAutoApplied || status == types.StatusApproved {
			st.TotalAccepted++
		} else {
			st.TotalRejected++
		}
		return nil
	}
	return types.ErrUnknownSuggestion
}

func (m *MemoryStore) Stats(_ context.Context, projectID string) (types.AcceptanceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.stats[projectID]; ok {
		return *st, nil
	}
	return types.AcceptanceStats{}, nil
}

func (m *MemoryStore) RecentFiles(_ context.Context, sessionID string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok || n <= 0 {
		return nil, nil
	}

	seen := map[string]bool{}
	var files []string
	for i := len(sess.History) - 1; i >= 0 && len(files) < n; i-- {
		f := sess.History[i].Target.FilePath
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		files = append(files, f)
	}
	return files, nil
}

func (m *MemoryStore) Prune(_ context.Context, policy Policy) (PruneResult, error) {
	now := policy.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var res PruneResult

	for id, sess := range m.sessions {
		if policy.MaxAge > 0 && sess.LastActiveAt.Before(now.Add(-policy.MaxAge)) && allTerminal(sess.History) {
			for _, sug := range sess.History {
				delete(m.index, sug.ID)
			}
			res.SuggestionsRemoved += len(sess.History)
			delete(m.sessions, id)
			if m.byProj[sess.ProjectID] == id {
				delete(m.byProj, sess.ProjectID)
			}
			res.SessionsRemoved++
			continue
		}

		if policy.HistoryCap > 0 && len(sess.History) > policy.HistoryCap {
			excess := len(sess.History) - policy.HistoryCap
			kept := sess.History[:0:0]
			for i, sug := range sess.History {
				if excess > 0 && i < len(sess.History)-policy.HistoryCap && sug.Status.Terminal() {
					delete(m.index, sug.ID)
					res.SuggestionsRemoved++
					excess--
					continue
				}
				kept = append(kept, sug)
			}
			sess.History = kept
		}
	}
	return res, nil
}

func (m *MemoryStore) Degraded() bool { return m.degraded }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) statsFor(projectID string) *types.AcceptanceStats {
	st, ok := m.stats[projectID]
	if !ok {
		st = &types.AcceptanceStats{}
		m.stats[projectID] = st
	}
	return st
}

func (m *MemoryStore) snapshot(sess *types.Session) types.Session {
	out := *sess
	out.History = append([]types.Suggestion(nil), sess.History...)
	if st, ok := m.stats[sess.ProjectID]; ok {
		out.Stats = *st
	}
	return out
}

func allTerminal(history []types.Suggestion) bool {
	for _, sug := range history {
		if !sug.Status.Terminal() {
			return false
		}
	}
	return true
}
