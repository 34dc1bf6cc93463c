package config

import (
	"fmt"
	"math"
)

// ScoringConfig holds the fixed deployment weights for the confidence scorer.
// Weights are tuned per deployment, never learned online.
type ScoringConfig struct {
	// SignalWeight (w1) weights the provider's raw certainty signal.
	SignalWeight float64 `yaml:"signal_weight"`

	// RelevanceWeight (w2) weights the top-1 retrieval relevance.
	RelevanceWeight float64 `yaml:"relevance_weight"`

	// PriorWeight (w3) weights the Beta-smoothed historical acceptance rate.
	PriorWeight float64 `yaml:"prior_weight"`

	// Alpha and Beta smooth the acceptance prior so sparse history never
	// divides by zero or pins the prior at an extreme.
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
}

// DefaultScoring returns the stock weights (w1+w2+w3 = 1).
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		SignalWeight:    0.5,
		RelevanceWeight: 0.3,
		PriorWeight:     0.2,
		Alpha:           1,
		Beta:            1,
	}
}

// Validate checks that the weights form a convex combination.
func (s ScoringConfig) Validate() error {
	for name, w := range map[string]float64{
		"signal_weight":    s.SignalWeight,
		"relevance_weight": s.RelevanceWeight,
		"prior_weight":     s.PriorWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, w)
		}
	}
	if sum := s.SignalWeight + s.RelevanceWeight + s.PriorWeight; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1, got %v", sum)
	}
	if s.Alpha <= 0 || s.Beta <= 0 {
		return fmt.Errorf("alpha and beta must be positive")
	}
	return nil
}
