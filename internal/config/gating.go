package config

import "fmt"

// GatingConfig controls the gate controller thresholds and the human
// approval window.
type GatingConfig struct {
	// HighThreshold: confidence at or above auto-applies the suggestion.
	HighThreshold float64 `yaml:"high_threshold"`

	// LowThreshold: confidence below rejects outright. Values in
	// [LowThreshold, HighThreshold) route to human approval.
	LowThreshold float64 `yaml:"low_threshold"`

	// ApprovalTimeoutSeconds bounds how long an awaiting_approval suggestion
	// waits for a human response before expiring.
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds"`
}

// DefaultGating returns the stock thresholds.
func DefaultGating() GatingConfig {
	return GatingConfig{
		HighThreshold:          0.85,
		LowThreshold:           0.40,
		ApprovalTimeoutSeconds: 30,
	}
}

// Validate checks threshold ordering and ranges.
func (g GatingConfig) Validate() error {
	if g.LowThreshold < 0 || g.LowThreshold > 1 {
		return fmt.Errorf("low_threshold must be in [0,1], got %v", g.LowThreshold)
	}
	if g.HighThreshold < 0 || g.HighThreshold > 1 {
		return fmt.Errorf("high_threshold must be in [0,1], got %v", g.HighThreshold)
	}
	if g.LowThreshold >= g.HighThreshold {
		return fmt.Errorf("low_threshold (%v) must be below high_threshold (%v)", g.LowThreshold, g.HighThreshold)
	}
	if g.ApprovalTimeoutSeconds < 1 {
		return fmt.Errorf("approval_timeout_seconds must be >= 1")
	}
	return nil
}
