package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"pairpilot/internal/embedding"
	"pairpilot/internal/logging"
	"pairpilot/internal/types"
)

// Query returns the top-k chunks for a project by cosine similarity against
// queryVec, ties broken by most-recently-indexed first. Chunks without a
// current embedding are embedded lazily first; chunks whose embedding fails
// are marked stale and excluded rather than served with a zero vector.
// An empty or unindexed project yields an empty result, never an error.
func (s *Store) Query(ctx context.Context, projectID string, queryVec []float32, k int) (types.RetrievalResult, error) {
	if k <= 0 {
		k = 10
	}

	if err := s.embedPending(ctx, projectID); err != nil {
		// Recovered locally: failed chunks are stale now, the rest still serve.
		logging.Get(logging.CategoryStore).Warnf("lazy embedding pass incomplete for %s: %v", projectID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, byte_start, byte_end, content, content_hash, embedding, last_indexed_at
		 FROM chunks
		 WHERE project_id = ? AND superseded = 0 AND stale = 0 AND embedding IS NOT NULL`,
		projectID)
	if err != nil {
		return types.RetrievalResult{}, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		chunk     types.CodeChunk
		relevance float64
	}
	var candidates []candidate

	for rows.Next() {
		var c types.CodeChunk
		var embJSON string
		var indexedAt time.Time
		if err := rows.Scan(&c.ID, &c.FilePath, &c.ByteStart, &c.ByteEnd,
			&c.Content, &c.ContentHash, &embJSON, &indexedAt); err != nil {
			continue
		}
		c.ProjectID = projectID
		c.LastIndexedAt = indexedAt

		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		cos, err := embedding.Cosine(queryVec, vec)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{chunk: c, relevance: embedding.Relevance(cos)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].relevance != candidates[j].relevance {
			return candidates[i].relevance > candidates[j].relevance
		}
		return candidates[i].chunk.LastIndexedAt.After(candidates[j].chunk.LastIndexedAt)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	res := types.RetrievalResult{Chunks: make([]types.ScoredChunk, len(candidates))}
	for i, c := range candidates {
		res.Chunks[i] = types.ScoredChunk{Chunk: c.chunk, Relevance: c.relevance}
	}
	return res, nil
}

// pendingChunk is a chunk awaiting an embedding.
type pendingChunk struct {
	id      int64
	content string
}

// embedPending computes embeddings for live chunks that lack one. Reads and
// writes hold the lock only briefly; the embedding calls themselves run
// unlocked so unrelated sessions are not blocked on provider I/O.
func (s *Store) embedPending(ctx context.Context, projectID string) error {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return nil
	}

	pending, err := s.listPending(ctx, projectID, 0)
	if err != nil || len(pending) == 0 {
		return err
	}

	var firstErr error
	for _, p := range pending {
		vec, err := engine.Embed(ctx, p.content)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: chunk %d: %v", types.ErrEmbeddingFailure, p.id, err)
			}
			s.markStale(ctx, p.id)
			continue
		}
		if err := s.storeEmbedding(ctx, p.id, vec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) listPending(ctx context.Context, projectID string, limit int) ([]pendingChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, content FROM chunks
		 WHERE project_id = ? AND superseded = 0 AND stale = 0 AND embedding IS NULL`
	args := []any{projectID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}
	defer rows.Close()

	var pending []pendingChunk
	for rows.Next() {
		var p pendingChunk
		if err := rows.Scan(&p.id, &p.content); err == nil {
			pending = append(pending, p)
		}
	}
	return pending, rows.Err()
}

func (s *Store) storeEmbedding(ctx context.Context, id int64, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`UPDATE chunks SET embedding = ?, stale = 0 WHERE id = ?`, string(data), id)
	return err
}

func (s *Store) markStale(ctx context.Context, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `UPDATE chunks SET stale = 1 WHERE id = ?`, id); err != nil {
		logging.Get(logging.CategoryStore).Warnf("failed to mark chunk %d stale: %v", id, err)
	}
}

// resetStale clears the stale flag so the next pass retries the embedding.
func (s *Store) resetStale(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET stale = 0, embedding = NULL WHERE project_id = ? AND stale = 1 AND superseded = 0`,
		projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Get(logging.CategoryStore).Debugf("reset %d stale chunks for %s", n, projectID)
	}
	return nil
}
