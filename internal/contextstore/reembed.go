package contextstore

import (
	"context"
	"fmt"
	"sync"

	"pairpilot/internal/logging"

	"golang.org/x/sync/errgroup"
)

// ReembedPending recomputes embeddings for every live chunk that lacks one,
// including chunks previously marked stale. Embedding calls run with bounded
// concurrency; database writes stay serialized. Returns how many chunks were
// successfully embedded.
func (s *Store) ReembedPending(ctx context.Context, projectID string, concurrency int) (int, error) {
	if concurrency < 1 {
		concurrency = 4
	}

	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return 0, fmt.Errorf("no embedding engine configured")
	}

	// Stale chunks get another chance on an explicit index pass.
	if err := s.resetStale(ctx, projectID); err != nil {
		return 0, fmt.Errorf("failed to reset stale chunks: %w", err)
	}

	pending, err := s.listPending(ctx, projectID, 0)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	log := logging.Get(logging.CategoryStore)
	log.Debugf("re-embedding %d chunks for %s (concurrency=%d)", len(pending), projectID, concurrency)

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, p := range pending {
		g.Go(func() error {
			vec, err := engine.Embed(gctx, p.content)
			if err != nil {
				log.Warnf("embedding failed for chunk %d, marking stale: %v", p.id, err)
				s.markStale(gctx, p.id)
				return nil // keep going; stale chunks retry next pass
			}
			if err := s.storeEmbedding(gctx, p.id, vec); err != nil {
				return err
			}
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return done, err
	}
	return done, nil
}
