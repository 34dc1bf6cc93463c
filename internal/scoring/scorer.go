// Package scoring turns the provider's raw certainty signal, retrieval
// relevance, and historical acceptance into a single bounded confidence
// value. Scoring is deterministic: identical inputs always produce identical
// confidence.
package scoring

import (
	"pairpilot/internal/config"
	"pairpilot/internal/logging"
	"pairpilot/internal/types"
)

// Scorer computes confidence as a fixed-weight combination:
//
//	confidence = w1*raw_signal + w2*relevance_top1 + w3*prior
//	prior      = (accepted + alpha) / (total + alpha + beta)
//
// When the provider exposes no raw signal, w1 is redistributed
// proportionally across w2 and w3.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a scorer with the given deployment weights.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes confidence in [0,1]. rawSignal is nil when the provider
// exposes no certainty measure.
func (s *Scorer) Score(rawSignal *float64, relevanceTop1 float64, stats types.AcceptanceStats) float64 {
	w1, w2, w3 := s.cfg.SignalWeight, s.cfg.RelevanceWeight, s.cfg.PriorWeight

	if rawSignal == nil {
		// Redistribute w1 proportionally onto the remaining weights.
		if rest := w2 + w3; rest > 0 {
			w2 += w1 * (w2 / rest)
			w3 += w1 * (w3 / rest)
		} else {
			w2, w3 = 0.5, 0.5
		}
		w1 = 0
	}

	prior := s.Prior(stats)

	var raw float64
	if rawSignal != nil {
		raw = clamp01(*rawSignal)
	}
	confidence := clamp01(w1*raw + w2*clamp01(relevanceTop1) + w3*prior)

	logging.Get(logging.CategoryScoring).Debugf(
		"score raw=%v relevance=%.3f prior=%.3f -> confidence=%.3f",
		rawSignal, relevanceTop1, prior, confidence)
	return confidence
}

// Prior is the Beta-smoothed historical acceptance rate for the project.
func (s *Scorer) Prior(stats types.AcceptanceStats) float64 {
	accepted := float64(stats.TotalAccepted)
	total := float64(stats.TotalAccepted + stats.TotalRejected)
	return (accepted + s.cfg.Alpha) / (total + s.cfg.Alpha + s.cfg.Beta)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
