package contextstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pairpilot/internal/chunk"
	"pairpilot/internal/logging"
)

// UpsertResult reports what one indexing pass did.
type UpsertResult struct {
	Created     []int64 // new chunk ids
	Retained    []int64 // unchanged chunks, reused as-is
	Invalidated []int64 // superseded chunk ids (kept, excluded from queries)
}

// Upsert indexes one file's content: splits it into chunks, inserts new
// hashes, reuses unchanged ones (including their embeddings), and supersedes
// chunks whose hash no longer appears in the file. Idempotent: re-submitting
// identical content is a no-op. Embeddings are computed lazily at query time
// or by ReembedPending, never here.
func (s *Store) Upsert(ctx context.Context, projectID, filePath string, content []byte) (UpsertResult, error) {
	log := logging.Get(logging.CategoryStore)

	pieces := chunk.Split(filePath, content)

	s.mu.Lock()
	defer s.mu.Unlock()

	var res UpsertResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	hashes := make([]string, 0, len(pieces))
	for _, p := range pieces {
		hashes = append(hashes, p.Hash)

		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM chunks WHERE project_id = ? AND content_hash = ?`,
			projectID, p.Hash).Scan(&id)

		switch {
		case err == nil:
			// Known hash. Resurrect if a previous pass superseded it and
			// refresh its location; embedding carries over untouched.
			if _, err := tx.ExecContext(ctx,
				`UPDATE chunks SET superseded = 0, file_path = ?, byte_start = ?, byte_end = ?,
				 last_indexed_at = CURRENT_TIMESTAMP WHERE id = ?`,
				filePath, p.ByteStart, p.ByteEnd, id); err != nil {
				return res, fmt.Errorf("failed to refresh chunk %d: %w", id, err)
			}
			res.Retained = append(res.Retained, id)
		case errors.Is(err, sql.ErrNoRows):
			r, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (project_id, file_path, byte_start, byte_end, content, content_hash)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				projectID, filePath, p.ByteStart, p.ByteEnd, p.Content, p.Hash)
			if err != nil {
				return res, fmt.Errorf("failed to insert chunk: %w", err)
			}
			id, _ := r.LastInsertId()
			res.Created = append(res.Created, id)
		default:
			return res, fmt.Errorf("failed to look up chunk hash: %w", err)
		}
	}

	// Supersede chunks of this file whose hash vanished from the new content.
	// Invalidated, not deleted: a concurrent query holding old ids stays valid.
	filter := ""
	args := []any{projectID, filePath}
	if len(hashes) > 0 {
		filter = ` AND content_hash NOT IN (?` + strings.Repeat(",?", len(hashes)-1) + `)`
		for _, h := range hashes {
			args = append(args, h)
		}
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks
		 WHERE project_id = ? AND file_path = ? AND superseded = 0`+filter, args...)
	if err != nil {
		return res, fmt.Errorf("failed to list superseded chunks: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err == nil {
			res.Invalidated = append(res.Invalidated, id)
		}
	}
	rows.Close()
	if _, err := tx.ExecContext(ctx, `UPDATE chunks SET superseded = 1
		 WHERE project_id = ? AND file_path = ? AND superseded = 0`+filter, args...); err != nil {
		return res, fmt.Errorf("failed to supersede chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit upsert: %w", err)
	}

	log.Debugf("upsert %s/%s: %d created, %d retained, %d invalidated",
		projectID, filePath, len(res.Created), len(res.Retained), len(res.Invalidated))
	return res, nil
}
