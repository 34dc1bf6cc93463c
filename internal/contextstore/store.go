// Package contextstore persists per-project code chunks with embeddings and
// answers similarity queries. Chunks are invalidated by content hash rather
// than deleted, so concurrent indexing and querying never race on dangling
// rows.
package contextstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pairpilot/internal/embedding"
	"pairpilot/internal/logging"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed context store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	engine embedding.Engine
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id      TEXT NOT NULL,
	file_path       TEXT NOT NULL,
	byte_start      INTEGER NOT NULL,
	byte_end        INTEGER NOT NULL,
	content         TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	embedding       TEXT,
	stale           INTEGER NOT NULL DEFAULT 0,
	superseded      INTEGER NOT NULL DEFAULT 0,
	last_indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(project_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_chunks_project_file ON chunks(project_id, file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_live ON chunks(project_id, superseded, stale);
`

// New opens (or creates) the chunk database at path. Use ":memory:" for an
// ephemeral store in tests.
func New(path string) (*Store, error) {
	log := logging.Get(logging.CategoryStore)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debugf("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debugf("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		log.Debugf("failed to set synchronous=NORMAL: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize chunk schema: %w", err)
	}

	log.Debugf("context store opened at %s", path)
	return &Store{db: db, dbPath: path}, nil
}

// SetEmbeddingEngine configures the engine used for lazy re-embedding.
// Must be called before Query can serve similarity results.
func (s *Store) SetEmbeddingEngine(engine embedding.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Vacuum reclaims disk space from superseded chunk rows.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("VACUUM")
	return err
}

// Stats returns chunk counts for diagnostics.
func (s *Store) Stats(projectID string) (live, pendingEmbed, stale int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT
		COUNT(*) FILTER (WHERE superseded = 0 AND stale = 0),
		COUNT(*) FILTER (WHERE superseded = 0 AND stale = 0 AND embedding IS NULL),
		COUNT(*) FILTER (WHERE superseded = 0 AND stale = 1)
		FROM chunks WHERE project_id = ?`, projectID)
	err = row.Scan(&live, &pendingEmbed, &stale)
	return
}
