package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pairpilot/internal/types"

	"github.com/google/uuid"
)

// runStores runs a test against both the SQLite store and the in-memory
// fallback, which must share semantics.
func runStores(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		defer st.Close()
		fn(t, st)
	})

	t.Run("memory", func(t *testing.T) {
		st := NewMemoryStore(false)
		defer st.Close()
		fn(t, st)
	})
}

func appendSuggestion(t *testing.T, store Store, sess types.Session, status types.SuggestionStatus, target string) types.Suggestion {
	t.Helper()
	sug := types.Suggestion{
		ID:         uuid.NewString(),
		ProjectID:  sess.ProjectID,
		SessionID:  sess.ID,
		RawText:    "edit",
		Target:     types.EditTarget{FilePath: target, ByteStart: 0, ByteEnd: 10},
		Confidence: 0.5,
		Status:     types.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Append(context.Background(), sess.ID, sug); err != nil {
		t.Fatalf("failed to append suggestion: %v", err)
	}
	if status == types.StatusAwaitingApproval {
		if err := store.MarkAwaiting(context.Background(), sug.ID); err != nil {
			t.Fatalf("failed to mark awaiting: %v", err)
		}
		sug.Status = status
	} else if status.Terminal() {
		if err := store.Resolve(context.Background(), sug.ID, status, "", time.Now().UTC()); err != nil {
			t.Fatalf("failed to resolve suggestion: %v", err)
		}
		sug.Status = status
	}
	return sug
}

func TestGetOrCreateReusesActiveSession(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		first, err := store.GetOrCreate(ctx, "proj")
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		second, err := store.GetOrCreate(ctx, "proj")
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected the same session, got %s and %s", first.ID, second.ID)
		}

		other, err := store.GetOrCreate(ctx, "other-proj")
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if other.ID == first.ID {
			t.Errorf("projects must not share sessions")
		}
	})
}

func TestAppendBumpsSuggestedCounter(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")

		appendSuggestion(t, store, sess, types.StatusPending, "a.go")
		appendSuggestion(t, store, sess, types.StatusPending, "b.go")

		stats, err := store.Stats(ctx, "proj")
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.TotalSuggested != 2 {
			t.Errorf("expected 2 suggested, got %d", stats.TotalSuggested)
		}
		if stats.TotalAccepted != 0 || stats.TotalRejected != 0 {
			t.Errorf("unresolved suggestions must not move accept/reject counters: %+v", stats)
		}
	})
}

func TestResolveAtomicStatusAndStats(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")
		sug := appendSuggestion(t, store, sess, types.StatusPending, "a.go")

		if err := store.Resolve(ctx, sug.ID, types.StatusApproved, "", time.Now().UTC()); err != nil {
			t.Fatalf("Resolve: %v", err)
		}

		got, err := store.GetSuggestion(ctx, sug.ID)
		if err != nil {
			t.Fatalf("GetSuggestion: %v", err)
		}
		if got.Status != types.StatusApproved {
			t.Errorf("expected approved, got %s", got.Status)
		}
		if got.ResolvedAt.IsZero() {
			t.Errorf("resolved suggestion must carry a resolution time")
		}

		stats, _ := store.Stats(ctx, "proj")
		if stats.TotalAccepted != 1 {
			t.Errorf("expected 1 accepted, got %d", stats.TotalAccepted)
		}
	})
}

func TestResolveTerminalIsFinal(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")
		sug := appendSuggestion(t, store, sess, types.StatusApproved, "a.go")

		err := store.Resolve(ctx, sug.ID, types.StatusExpired, types.ReasonApprovalExpired, time.Now().UTC())
		if !errors.Is(err, types.ErrStaleApproval) {
			t.Fatalf("expected ErrStaleApproval, got %v", err)
		}

		// The losing write must not move the counters.
		stats, _ := store.Stats(ctx, "proj")
		if stats.TotalAccepted != 1 || stats.TotalRejected != 0 {
			t.Errorf("double resolve corrupted stats: %+v", stats)
		}
	})
}

func TestResolveRejectsNonTerminalStatus(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")
		sug := appendSuggestion(t, store, sess, types.StatusPending, "a.go")

		if err := store.Resolve(ctx, sug.ID, types.StatusAwaitingApproval, "", time.Now().UTC()); err == nil {
			t.Fatal("expected an error for a non-terminal resolve status")
		}
	})
}

func TestResolveUnknownSuggestion(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		err := store.Resolve(context.Background(), uuid.NewString(), types.StatusRejected, "", time.Now().UTC())
		if !errors.Is(err, types.ErrUnknownSuggestion) {
			t.Fatalf("expected ErrUnknownSuggestion, got %v", err)
		}
	})
}

func TestExpiredCountsAsRejected(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")
		appendSuggestion(t, store, sess, types.StatusExpired, "a.go")

		stats, _ := store.Stats(ctx, "proj")
		if stats.TotalRejected != 1 {
			t.Errorf("expired must count as rejected, got %+v", stats)
		}
	})
}

func TestMarkAwaitingRequiresPending(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")
		sug := appendSuggestion(t, store, sess, types.StatusApproved, "a.go")

		if err := store.MarkAwaiting(ctx, sug.ID); !errors.Is(err, types.ErrUnknownSuggestion) {
			t.Fatalf("expected ErrUnknownSuggestion for a terminal suggestion, got %v", err)
		}
	})
}

func TestRecentFilesDedupedMostRecentFirst(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")

		for _, f := range []string{"a.go", "b.go", "a.go", "c.go"} {
			appendSuggestion(t, store, sess, types.StatusPending, f)
			time.Sleep(2 * time.Millisecond) // distinct created_at ordering
		}

		files, err := store.RecentFiles(ctx, sess.ID, 10)
		if err != nil {
			t.Fatalf("RecentFiles: %v", err)
		}
		want := []string{"c.go", "a.go", "b.go"}
		if len(files) != len(want) {
			t.Fatalf("expected %v, got %v", want, files)
		}
		for i := range want {
			if files[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, files)
			}
		}
	})
}

func TestPruneKeepsSessionsWithOpenSuggestions(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		open, _ := store.GetOrCreate(ctx, "open-proj")
		appendSuggestion(t, store, open, types.StatusAwaitingApproval, "a.go")

		done, _ := store.GetOrCreate(ctx, "done-proj")
		appendSuggestion(t, store, done, types.StatusApproved, "b.go")

		// A future Now makes every session older than the retention window.
		res, err := store.Prune(ctx, Policy{
			MaxAge: time.Hour,
			Now:    time.Now().UTC().Add(100 * time.Hour),
		})
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if res.SessionsRemoved != 1 {
			t.Errorf("expected 1 session removed, got %d", res.SessionsRemoved)
		}

		if _, err := store.Get(ctx, open.ID); err != nil {
			t.Errorf("session with an awaiting suggestion must survive pruning: %v", err)
		}
		if _, err := store.Get(ctx, done.ID); err == nil {
			t.Errorf("inactive all-terminal session must be pruned")
		}
	})
}

func TestPruneHistoryCapDropsOldestTerminalOnly(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sess, _ := store.GetOrCreate(ctx, "proj")

		// Oldest first: terminal, open, terminal, terminal. With a cap of 2
		// the two oldest are excess, but only the terminal one may go.
		oldest := appendSuggestion(t, store, sess, types.StatusRejected, "old1.go")
		time.Sleep(2 * time.Millisecond)
		openSug := appendSuggestion(t, store, sess, types.StatusAwaitingApproval, "open.go")
		time.Sleep(2 * time.Millisecond)
		appendSuggestion(t, store, sess, types.StatusApproved, "old2.go")
		time.Sleep(2 * time.Millisecond)
		newest := appendSuggestion(t, store, sess, types.StatusApproved, "new.go")

		res, err := store.Prune(ctx, Policy{HistoryCap: 2})
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if res.SuggestionsRemoved != 1 {
			t.Errorf("expected 1 suggestion removed, got %d", res.SuggestionsRemoved)
		}

		if _, err := store.GetSuggestion(ctx, oldest.ID); !errors.Is(err, types.ErrUnknownSuggestion) {
			t.Errorf("oldest terminal suggestion should be pruned, got %v", err)
		}
		if _, err := store.GetSuggestion(ctx, openSug.ID); err != nil {
			t.Errorf("awaiting suggestion must survive the history cap: %v", err)
		}
		if _, err := store.GetSuggestion(ctx, newest.ID); err != nil {
			t.Errorf("newest suggestion must survive the history cap: %v", err)
		}
	})
}

func TestOpenFallsBackToMemoryStore(t *testing.T) {
	// A file where the parent directory should be makes the database
	// unopenable.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := Open(filepath.Join(blocker, "sessions.db"))
	defer store.Close()

	if !store.Degraded() {
		t.Fatal("expected the fallback store to report degraded mode")
	}

	// Degraded mode still serves the full contract.
	sess, err := store.GetOrCreate(context.Background(), "proj")
	if err != nil {
		t.Fatalf("GetOrCreate on fallback store: %v", err)
	}
	if sess.ProjectID != "proj" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	sess, _ := st.GetOrCreate(ctx, "proj")
	sug := appendSuggestion(t, st, sess, types.StatusAwaitingApproval, "a.go")
	st.Close()

	st, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer st.Close()

	got, err := st.GetSuggestion(ctx, sug.ID)
	if err != nil {
		t.Fatalf("GetSuggestion after reopen: %v", err)
	}
	if got.Status != types.StatusAwaitingApproval {
		t.Errorf("expected awaiting_approval after reopen, got %s", got.Status)
	}
}

func TestListAwaitingReturnsOnlyOpenApprovals(t *testing.T) {
	runStores(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sessA, _ := store.GetOrCreate(ctx, "proj-a")
		sessB, _ := store.GetOrCreate(ctx, "proj-b")

		older := appendSuggestion(t, store, sessA, types.StatusAwaitingApproval, "a.go")
		time.Sleep(2 * time.Millisecond)
		appendSuggestion(t, store, sessA, types.StatusAutoApplied, "b.go")
		appendSuggestion(t, store, sessA, types.StatusPending, "c.go")
		time.Sleep(2 * time.Millisecond)
		newer := appendSuggestion(t, store, sessB, types.StatusAwaitingApproval, "d.go")

		got, err := store.ListAwaiting(ctx)
		if err != nil {
			t.Fatalf("ListAwaiting: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 awaiting suggestions, got %d", len(got))
		}
		if got[0].ID != older.ID || got[1].ID != newer.ID {
			t.Errorf("expected [%s %s] oldest first, got [%s %s]",
				older.ID, newer.ID, got[0].ID, got[1].ID)
		}

		if err := store.Resolve(ctx, older.ID, types.StatusApproved, "", time.Now().UTC()); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		got, err = store.ListAwaiting(ctx)
		if err != nil {
			t.Fatalf("ListAwaiting after resolve: %v", err)
		}
		if len(got) != 1 || got[0].ID != newer.ID {
			t.Errorf("resolved suggestion must leave the awaiting list")
		}
	})
}
