package config

import (
	"fmt"
	"time"
)

// SessionConfig controls session persistence and pruning.
type SessionConfig struct {
	// RetentionDays: sessions inactive longer than this are pruned whole.
	RetentionDays int `yaml:"session_retention_days"`

	// HistoryCap bounds a retained session's history length. Pruning drops
	// the oldest terminal entries past the cap, never non-terminal ones.
	HistoryCap int `yaml:"session_history_cap"`
}

// DefaultSession returns the stock retention policy.
func DefaultSession() SessionConfig {
	return SessionConfig{
		RetentionDays: 30,
		HistoryCap:    500,
	}
}

// RetentionAge returns the inactivity cutoff as a duration.
func (s SessionConfig) RetentionAge() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// Validate checks ranges.
func (s SessionConfig) Validate() error {
	if s.RetentionDays < 1 {
		return fmt.Errorf("session_retention_days must be >= 1")
	}
	if s.HistoryCap < 10 {
		return fmt.Errorf("session_history_cap must be >= 10")
	}
	return nil
}
